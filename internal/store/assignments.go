package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Oofersky/executor-balancer/internal/models"
)

const assignmentColumns = `id, request_id, executor_id, match_score, final_score, reasons, superseded, created_at`

func scanAssignment(row rowScanner) (models.Assignment, error) {
	var (
		a       models.Assignment
		reasons pq.StringArray
	)
	err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.ExecutorID,
		&a.MatchScore,
		&a.FinalScore,
		&reasons,
		&a.Superseded,
		&a.CreatedAt,
	)
	if err != nil {
		return models.Assignment{}, err
	}
	a.Reasons = []string(reasons)
	return a, nil
}

func (s *PGStore) InsertAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO assignments (id, request_id, executor_id, match_score, final_score, reasons, superseded)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE)
		RETURNING ` + assignmentColumns
	assignment, err := scanAssignment(s.db.QueryRowContext(ctx, query,
		in.ID, in.RequestID, in.ExecutorID, in.MatchScore, in.FinalScore, stringArray(in.Reasons)))
	if err != nil {
		return models.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return assignment, nil
}

func (s *PGStore) GetAssignment(ctx context.Context, id uuid.UUID) (models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	assignment, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Assignment{}, ErrNotFound
		}
		return models.Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return assignment, nil
}

func (s *PGStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if filter.RequestID != nil {
		query += fmt.Sprintf(" AND request_id = $%d", argPos)
		args = append(args, *filter.RequestID)
		argPos++
	}
	if filter.ExecutorID != nil {
		query += fmt.Sprintf(" AND executor_id = $%d", argPos)
		args = append(args, *filter.ExecutorID)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return assignments, nil
}

func (s *PGStore) MarkAssignmentSuperseded(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assignments SET superseded=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark assignment superseded: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func ensurePayload(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

func (s *PGStore) InsertOutcomeEvent(ctx context.Context, in OutcomeEventInput) (models.OutcomeEvent, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO outcome_events (id, event_type, payload, stream_status, attempts)
		VALUES ($1,$2,$3,'pending',0)
		RETURNING created_at
	`
	var created sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.EventType, []byte(ensurePayload(in.Payload))).Scan(&created); err != nil {
		return models.OutcomeEvent{}, fmt.Errorf("insert outcome event: %w", err)
	}
	return models.OutcomeEvent{
		ID:           in.ID,
		EventType:    in.EventType,
		Payload:      ensurePayload(in.Payload),
		StreamStatus: models.StreamPending,
		CreatedAt:    created.Time,
	}, nil
}

func (s *PGStore) FetchPendingOutcomeEvents(ctx context.Context, limit int) ([]models.OutcomeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, payload, stream_status, attempts, archive_key, created_at
		FROM outcome_events
		WHERE stream_status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outcome events: %w", err)
	}
	defer rows.Close()

	var events []models.OutcomeEvent
	for rows.Next() {
		var (
			ev         models.OutcomeEvent
			payload    []byte
			archiveKey sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &payload, &ev.StreamStatus, &ev.Attempts, &archiveKey, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome event: %w", err)
		}
		ev.Payload = append(json.RawMessage(nil), payload...)
		ev.ArchiveKey = archiveKey.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome events: %w", err)
	}
	return events, nil
}

func (s *PGStore) MarkOutcomeEventResult(ctx context.Context, id uuid.UUID, status models.StreamStatus, archiveKey string) error {
	query := `
		UPDATE outcome_events
		SET stream_status=$2, attempts=attempts+1, archive_key=COALESCE(NULLIF($3,''), archive_key)
		WHERE id=$1
	`
	res, err := s.db.ExecContext(ctx, query, id, status, archiveKey)
	if err != nil {
		return fmt.Errorf("mark outcome event: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
