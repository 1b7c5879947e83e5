package database

import (
	"context"
	"fmt"
	"time"
)

var _ RuleRepository = (*ruleRepository)(nil)

type ruleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) UpsertRule(ctx context.Context, rule ClassificationRule) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classification_rules (
			name, strategy, pattern, category, subcategory, priority, conditions, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			strategy = excluded.strategy,
			pattern = excluded.pattern,
			category = excluded.category,
			subcategory = excluded.subcategory,
			priority = excluded.priority,
			conditions = excluded.conditions,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, rule.Name, rule.Strategy, rule.Pattern, rule.Category, rule.Subcategory,
		rule.Priority, rule.Conditions, rule.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert classification rule: %w", err)
	}
	return nil
}

// GetEnabledRules returns enabled rules ordered by (priority desc, id asc)
// so evaluation order and tie-breaks are deterministic.
func (r *ruleRepository) GetEnabledRules(ctx context.Context) ([]ClassificationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, strategy, pattern, category, subcategory, priority, conditions, enabled, created_at, updated_at
		FROM classification_rules
		WHERE enabled = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []ClassificationRule
	for rows.Next() {
		var rule ClassificationRule
		err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Strategy, &rule.Pattern, &rule.Category,
			&rule.Subcategory, &rule.Priority, &rule.Conditions, &rule.Enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}

	return rules, nil
}
