package names

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
)

// Repository defines persistence for name overrides.
type Repository interface {
	Upsert(ctx context.Context, override *Override) error
	Delete(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]*Override, error)
}
