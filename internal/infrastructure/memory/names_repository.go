package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agora-relay/agora-relay/internal/domain/names"
)

// NamesRepository implements names.Repository in process memory, used
// when no database is configured. Overrides are lost on restart.
type NamesRepository struct {
	mu        sync.RWMutex
	overrides map[string]names.Override
}

func NewNamesRepository() *NamesRepository {
	return &NamesRepository{overrides: map[string]names.Override{}}
}

func (r *NamesRepository) Upsert(_ context.Context, override *names.Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[override.AgentID] = *override
	return nil
}

func (r *NamesRepository) Delete(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overrides[agentID]; !ok {
		return names.ErrNotFound
	}
	delete(r.overrides, agentID)
	return nil
}

func (r *NamesRepository) List(_ context.Context) ([]*names.Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*names.Override, 0, len(r.overrides))
	for _, o := range r.overrides {
		copy := o
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}
