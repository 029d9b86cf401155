package names

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxDisplayNameLen = 64

var (
	ErrAgentIDRequired = errors.New("agent id is required")
	ErrNameRequired    = errors.New("display name is required")
	ErrNameTooLong     = errors.New("display name exceeds 64 characters")
	ErrNotFound        = errors.New("name override not found")
)

// Override is an operator-assigned display name for one upstream agent.
// It decorates the relay's view only; the upstream network never sees
// it.
type Override struct {
	AgentID     string    `json:"agentId"`
	DisplayName string    `json:"displayName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewOverride validates and builds an override.
func NewOverride(agentID, displayName string) (*Override, error) {
	agentID = strings.TrimSpace(agentID)
	displayName = strings.TrimSpace(displayName)
	if err := ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &Override{
		AgentID:     agentID,
		DisplayName: displayName,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func ValidateAgentID(agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return ErrAgentIDRequired
	}
	return nil
}

func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return ErrNameTooLong
	}
	return nil
}
