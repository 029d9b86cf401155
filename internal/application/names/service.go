package names

import (
	"context"

	"github.com/rs/zerolog"

	domain "github.com/agora-relay/agora-relay/internal/domain/names"
)

// Service handles display-name overrides.
type Service struct {
	repo   domain.Repository
	logger zerolog.Logger
}

// NewService creates a names service.
func NewService(repo domain.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "names").Logger(),
	}
}

// Set validates and persists an override.
func (s *Service) Set(ctx context.Context, agentID, displayName string) (*domain.Override, error) {
	override, err := domain.NewOverride(agentID, displayName)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, override); err != nil {
		s.logger.Error().Err(err).Str("agent_id", override.AgentID).Msg("persist name override")
		return nil, err
	}
	s.logger.Info().Str("agent_id", override.AgentID).Str("display_name", override.DisplayName).Msg("name override set")
	return override, nil
}

// Remove clears an override. Removing an absent override is not an
// error.
func (s *Service) Remove(ctx context.Context, agentID string) error {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, agentID)
	if err == domain.ErrNotFound {
		return nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("delete name override")
		return err
	}
	s.logger.Info().Str("agent_id", agentID).Msg("name override removed")
	return nil
}

// Load returns the persisted override map for world installation.
func (s *Service) Load(ctx context.Context) (map[string]string, error) {
	overrides, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(overrides))
	for _, o := range overrides {
		out[o.AgentID] = o.DisplayName
	}
	return out, nil
}
