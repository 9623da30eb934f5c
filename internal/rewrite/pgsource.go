package rewrite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuflow/waypoint/model"
)

// PgRuleSource loads rule definitions from a PostgreSQL rules table with
// condition and action stored as JSONB.
type PgRuleSource struct {
	pool *pgxpool.Pool
}

// NewPgRuleSource creates a PostgreSQL rule source.
func NewPgRuleSource(pool *pgxpool.Pool) *PgRuleSource {
	return &PgRuleSource{pool: pool}
}

// LoadActive returns all active rules ordered by creation time, which
// fixes the tie order for equal priorities.
func (s *PgRuleSource) LoadActive(ctx context.Context) ([]model.RuleDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, name, description, priority, active, version,
		       condition, action, created_by, created_at, updated_at
		FROM rewrite_rules
		WHERE active = TRUE
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query rewrite rules: %w", err)
	}
	defer rows.Close()

	var rules []model.RuleDefinition
	for rows.Next() {
		var r model.RuleDefinition
		var condJSON, actionJSON []byte
		if err := rows.Scan(
			&r.RuleID, &r.Name, &r.Description, &r.Priority, &r.Active, &r.Version,
			&condJSON, &actionJSON, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rewrite rule: %w", err)
		}
		if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
			return nil, fmt.Errorf("parse condition for rule %s: %w", r.RuleID, err)
		}
		if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
			return nil, fmt.Errorf("parse action for rule %s: %w", r.RuleID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
