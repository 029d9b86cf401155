package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agora-relay/agora-relay/internal/domain/world"
)

func sampleSkills() []world.Skill {
	return []world.Skill{
		{Agent: "a-1", Name: "translation", Category: "language", Price: 5, Currency: "USD", Rating: 4.5},
		{Agent: "a-2", Name: "code-review", Category: "engineering", Price: 50, Currency: "USD", Rating: 4.9},
		{Agent: "a-3", Name: "summarization", Category: "language", Price: 2, Currency: "EUR", Rating: 3.1},
	}
}

func TestFilterByPriceAndCategory(t *testing.T) {
	out, err := Filter(sampleSkills(), "price < 10 && category == 'language'")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "translation", out[0].Name)
	assert.Equal(t, "summarization", out[1].Name)
}

func TestFilterByRating(t *testing.T) {
	out, err := Filter(sampleSkills(), "rating >= 4.5")
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestFilterEmptyExpressionReturnsAll(t *testing.T) {
	out, err := Filter(sampleSkills(), "   ")
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestFilterBadExpression(t *testing.T) {
	_, err := Filter(sampleSkills(), "price <<< 10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse filter")
}

func TestFilterNonBooleanResult(t *testing.T) {
	_, err := Filter(sampleSkills(), "price + 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")
}

func TestFilterUnknownParameter(t *testing.T) {
	_, err := Filter(sampleSkills(), "stake > 3")
	require.Error(t, err)
}
