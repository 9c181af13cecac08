package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Oofersky/executor-balancer/internal/models"
)

const requestColumns = `id, title, description, category, priority, complexity, required_skills,
		       required_languages, timezone_preference, estimated_hours, weight, status,
		       deadline, assigned_executor_id, created_at, updated_at`

func scanRequest(row rowScanner) (models.Request, error) {
	var (
		r          models.Request
		tzPref     sql.NullString
		skills     pq.StringArray
		langs      pq.StringArray
		deadline   sql.NullTime
		executorID sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.Title,
		&r.Description,
		&r.Category,
		&r.Priority,
		&r.Complexity,
		&skills,
		&langs,
		&tzPref,
		&r.EstimatedHours,
		&r.Weight,
		&r.Status,
		&deadline,
		&executorID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return models.Request{}, err
	}
	r.TimezonePreference = tzPref.String
	r.RequiredSkills = []string(skills)
	r.RequiredLanguages = []string(langs)
	if deadline.Valid {
		t := deadline.Time
		r.Deadline = &t
	}
	if executorID.Valid {
		id, err := uuid.Parse(executorID.String)
		if err == nil {
			r.AssignedExecutorID = &id
		}
	}
	return r, nil
}

func (s *PGStore) CreateRequest(ctx context.Context, in RequestInput) (models.Request, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO requests (id, title, description, category, priority, complexity, required_skills,
		                      required_languages, timezone_preference, estimated_hours, weight, status, deadline)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'pending',$12)
		RETURNING ` + requestColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.Title, in.Description, in.Category, in.Priority, in.Complexity,
		stringArray(in.RequiredSkills), stringArray(in.RequiredLanguages),
		emptyToNil(in.TimezonePreference), in.EstimatedHours, in.Weight, in.Deadline,
	)
	request, err := scanRequest(row)
	if err != nil {
		return models.Request{}, fmt.Errorf("insert request: %w", err)
	}
	return request, nil
}

func (s *PGStore) GetRequest(ctx context.Context, id uuid.UUID) (models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, ErrNotFound
		}
		return models.Request{}, fmt.Errorf("get request: %w", err)
	}
	return request, nil
}

func (s *PGStore) ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Priority != "" {
		query += fmt.Sprintf(" AND priority = $%d", argPos)
		args = append(args, filter.Priority)
		argPos++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argPos)
		args = append(args, filter.Category)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}

// UpdateRequest changes the descriptive fields only. Status and the
// assigned executor move through UpdateRequestStatus.
func (s *PGStore) UpdateRequest(ctx context.Context, id uuid.UUID, in RequestInput) (models.Request, error) {
	query := `
		UPDATE requests
		SET title=$2, description=$3, category=$4, priority=$5, complexity=$6, required_skills=$7,
		    required_languages=$8, timezone_preference=$9, estimated_hours=$10, weight=$11,
		    deadline=$12, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + requestColumns
	row := s.db.QueryRowContext(ctx, query,
		id, in.Title, in.Description, in.Category, in.Priority, in.Complexity,
		stringArray(in.RequiredSkills), stringArray(in.RequiredLanguages),
		emptyToNil(in.TimezonePreference), in.EstimatedHours, in.Weight, in.Deadline,
	)
	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, ErrNotFound
		}
		return models.Request{}, fmt.Errorf("update request: %w", err)
	}
	return request, nil
}

func (s *PGStore) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus, executorID *uuid.UUID) (models.Request, error) {
	query := `
		UPDATE requests
		SET status=$2, assigned_executor_id=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + requestColumns
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, id, status, executorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, ErrNotFound
		}
		return models.Request{}, fmt.Errorf("update request status: %w", err)
	}
	return request, nil
}
