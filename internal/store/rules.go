package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/models"
)

const ruleColumns = `id, name, description, priority, is_active, adjustment, conditions, created_at`

func scanRule(row rowScanner) (models.Rule, error) {
	var (
		r           models.Rule
		description sql.NullString
		conditions  []byte
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&description,
		&r.Priority,
		&r.IsActive,
		&r.Adjustment,
		&conditions,
		&r.CreatedAt,
	)
	if err != nil {
		return models.Rule{}, err
	}
	r.Description = description.String
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return models.Rule{}, fmt.Errorf("decode rule conditions: %w", err)
		}
	}
	return r, nil
}

func marshalConditions(conditions []models.RuleCondition) ([]byte, error) {
	if conditions == nil {
		conditions = []models.RuleCondition{}
	}
	return json.Marshal(conditions)
}

func (s *PGStore) CreateRule(ctx context.Context, in RuleInput) (models.Rule, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	conditions, err := marshalConditions(in.Conditions)
	if err != nil {
		return models.Rule{}, fmt.Errorf("encode rule conditions: %w", err)
	}
	query := `
		INSERT INTO rules (id, name, description, priority, is_active, adjustment, conditions)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + ruleColumns
	rule, err := scanRule(s.db.QueryRowContext(ctx, query,
		in.ID, in.Name, emptyToNil(in.Description), in.Priority, in.IsActive, in.Adjustment, conditions))
	if err != nil {
		return models.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var ruleSet []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		ruleSet = append(ruleSet, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return ruleSet, nil
}

func (s *PGStore) UpdateRule(ctx context.Context, id uuid.UUID, in RuleInput) (models.Rule, error) {
	conditions, err := marshalConditions(in.Conditions)
	if err != nil {
		return models.Rule{}, fmt.Errorf("encode rule conditions: %w", err)
	}
	query := `
		UPDATE rules
		SET name=$2, description=$3, priority=$4, is_active=$5, adjustment=$6, conditions=$7
		WHERE id=$1
		RETURNING ` + ruleColumns
	rule, err := scanRule(s.db.QueryRowContext(ctx, query,
		id, in.Name, emptyToNil(in.Description), in.Priority, in.IsActive, in.Adjustment, conditions))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
