package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-relay/agora-relay/internal/domain/names"
)

func TestNamesRepositoryLifecycle(t *testing.T) {
	repo := NewNamesRepository()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &names.Override{AgentID: "agent-2", DisplayName: "Beta", UpdatedAt: time.Now()}))
	require.NoError(t, repo.Upsert(ctx, &names.Override{AgentID: "agent-1", DisplayName: "Prime", UpdatedAt: time.Now()}))
	require.NoError(t, repo.Upsert(ctx, &names.Override{AgentID: "agent-1", DisplayName: "Prime v2", UpdatedAt: time.Now()}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "agent-1", list[0].AgentID)
	assert.Equal(t, "Prime v2", list[0].DisplayName)
	assert.Equal(t, "agent-2", list[1].AgentID)

	require.NoError(t, repo.Delete(ctx, "agent-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "agent-1"), names.ErrNotFound)

	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNamesRepositoryListCopies(t *testing.T) {
	repo := NewNamesRepository()
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, &names.Override{AgentID: "agent-1", DisplayName: "Prime"}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	list[0].DisplayName = "mutated"

	again, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Prime", again[0].DisplayName)
}
