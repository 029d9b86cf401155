package names

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domain "github.com/agora-relay/agora-relay/internal/domain/names"
	"github.com/agora-relay/agora-relay/internal/domain/names/mocks"
)

func TestSet(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().
			Upsert(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, o *domain.Override) error {
				assert.Equal(t, "agent-1", o.AgentID)
				assert.Equal(t, "Translator Prime", o.DisplayName)
				assert.False(t, o.UpdatedAt.IsZero())
				return nil
			})

		override, err := svc.Set(ctx, "  agent-1  ", "Translator Prime")
		require.NoError(t, err)
		require.NotNil(t, override)
		assert.Equal(t, "agent-1", override.AgentID)
	})

	t.Run("validation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		_, err := svc.Set(ctx, "", "name")
		assert.ErrorIs(t, err, domain.ErrAgentIDRequired)

		_, err = svc.Set(ctx, "agent-1", "")
		assert.ErrorIs(t, err, domain.ErrNameRequired)

		_, err = svc.Set(ctx, "agent-1", strings.Repeat("x", 65))
		assert.ErrorIs(t, err, domain.ErrNameTooLong)
	})

	t.Run("repository failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().Upsert(ctx, gomock.Any()).Return(errors.New("db down"))

		_, err := svc.Set(ctx, "agent-1", "name")
		require.Error(t, err)
	})
}

func TestRemove(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().Delete(ctx, "agent-1").Return(nil)
		require.NoError(t, svc.Remove(ctx, "agent-1"))
	})

	t.Run("absent override is not an error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		repo := mocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().Delete(ctx, "agent-1").Return(domain.ErrNotFound)
		require.NoError(t, svc.Remove(ctx, "agent-1"))
	})
}

func TestLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	repo.EXPECT().List(ctx).Return([]*domain.Override{
		{AgentID: "agent-1", DisplayName: "Prime"},
		{AgentID: "agent-2", DisplayName: "Beta"},
	}, nil)

	out, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"agent-1": "Prime", "agent-2": "Beta"}, out)
}
