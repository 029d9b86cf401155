package skills

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/agora-relay/agora-relay/internal/domain/world"
)

// Filter evaluates a boolean expression against each skill and returns
// the matches. Expressions see the parameters name, agent, description,
// category, currency, price and rating, e.g.:
//
//	price < 50 && category == 'translation'
//
// An expression that fails to parse, or that evaluates to a non-boolean,
// is an error.
func Filter(items []world.Skill, expression string) ([]world.Skill, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return append([]world.Skill(nil), items...), nil
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}

	out := make([]world.Skill, 0, len(items))
	for _, skill := range items {
		params := map[string]any{
			"name":        skill.Name,
			"agent":       skill.Agent,
			"description": skill.Description,
			"category":    skill.Category,
			"currency":    skill.Currency,
			"price":       skill.Price,
			"rating":      skill.Rating,
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("evaluate filter: %w", err)
		}
		match, ok := result.(bool)
		if !ok {
			return nil, fmt.Errorf("filter must evaluate to a boolean, got %T", result)
		}
		if match {
			out = append(out, skill)
		}
	}
	return out, nil
}
