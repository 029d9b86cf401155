package world

const (
	dedupLimit = 1000
	dedupKeep  = 500
)

// DedupWindow tracks recently-seen message identifiers. When the set
// exceeds its limit it collapses to the most recently marked half,
// keeping recency bias over strict FIFO. The window is approximate by
// design and is not persisted across restarts.
type DedupWindow struct {
	limit int
	keep  int
	seen  map[string]struct{}
	order []string
}

// NewDedupWindow creates a window with the default 1000/500 policy.
func NewDedupWindow() *DedupWindow {
	return newDedupWindow(dedupLimit, dedupKeep)
}

func newDedupWindow(limit, keep int) *DedupWindow {
	if limit <= 0 {
		limit = dedupLimit
	}
	if keep <= 0 || keep > limit {
		keep = limit / 2
	}
	return &DedupWindow{
		limit: limit,
		keep:  keep,
		seen:  make(map[string]struct{}),
		order: make([]string, 0, limit),
	}
}

// Seen reports whether the identifier is currently in the window.
func (w *DedupWindow) Seen(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Mark records the identifier, collapsing the window when full.
func (w *DedupWindow) Mark(id string) {
	if id == "" {
		return
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
	if len(w.seen) <= w.limit {
		return
	}
	// Collapse to the most recently marked entries.
	kept := make(map[string]struct{}, w.keep)
	order := make([]string, 0, w.keep)
	for i := len(w.order) - 1; i >= 0 && len(kept) < w.keep; i-- {
		candidate := w.order[i]
		if _, ok := kept[candidate]; ok {
			continue
		}
		kept[candidate] = struct{}{}
		order = append(order, candidate)
	}
	// Restore insertion order for the survivors.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	w.seen = kept
	w.order = order
}

// Len returns the current number of tracked identifiers.
func (w *DedupWindow) Len() int {
	return len(w.seen)
}
