package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Oofersky/executor-balancer/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded is returned when a positive load adjustment
	// would push an executor past its daily limit.
	ErrCapacityExceeded = errors.New("daily limit exceeded")
)

type Store interface {
	CreateExecutor(ctx context.Context, in ExecutorInput) (models.Executor, error)
	GetExecutor(ctx context.Context, id uuid.UUID) (models.Executor, error)
	ListExecutors(ctx context.Context, filter ExecutorFilter) ([]models.Executor, error)
	UpdateExecutor(ctx context.Context, id uuid.UUID, in ExecutorInput) (models.Executor, error)
	DeleteExecutor(ctx context.Context, id uuid.UUID) error
	AdjustExecutorLoad(ctx context.Context, id uuid.UUID, delta int, enforceLimit bool) (models.Executor, error)
	SetExecutorSuccessRate(ctx context.Context, id uuid.UUID, rate float64) error

	CreateRequest(ctx context.Context, in RequestInput) (models.Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (models.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error)
	UpdateRequest(ctx context.Context, id uuid.UUID, in RequestInput) (models.Request, error)
	DeleteRequest(ctx context.Context, id uuid.UUID) error
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus, executorID *uuid.UUID) (models.Request, error)

	CreateRule(ctx context.Context, in RuleInput) (models.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, in RuleInput) (models.Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error

	InsertAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (models.Assignment, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error)
	MarkAssignmentSuperseded(ctx context.Context, id uuid.UUID) error

	InsertOutcomeEvent(ctx context.Context, in OutcomeEventInput) (models.OutcomeEvent, error)
	FetchPendingOutcomeEvents(ctx context.Context, limit int) ([]models.OutcomeEvent, error)
	MarkOutcomeEventResult(ctx context.Context, id uuid.UUID, status models.StreamStatus, archiveKey string) error

	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type ExecutorInput struct {
	ID              uuid.UUID
	Name            string
	Email           string
	Role            models.Role
	Status          models.ExecutorStatus
	Skills          []string
	Languages       []string
	Timezone        string
	ExperienceYears int
	DailyLimit      int
	SuccessRate     float64
	Weight          float64
}

type RequestInput struct {
	ID                 uuid.UUID
	Title              string
	Description        string
	Category           string
	Priority           models.Priority
	Complexity         models.Complexity
	RequiredSkills     []string
	RequiredLanguages  []string
	TimezonePreference string
	EstimatedHours     int
	Weight             float64
	Deadline           *time.Time
}

type RuleInput struct {
	ID          uuid.UUID
	Name        string
	Description string
	Priority    int
	IsActive    bool
	Adjustment  float64
	Conditions  []models.RuleCondition
}

type AssignmentInput struct {
	ID         uuid.UUID
	RequestID  uuid.UUID
	ExecutorID uuid.UUID
	MatchScore float64
	FinalScore float64
	Reasons    []string
}

type OutcomeEventInput struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
}

type ExecutorFilter struct {
	Role   string
	Status string
	Skill  string
	Search string
	Limit  int
}

type RequestFilter struct {
	Status   string
	Priority string
	Category string
	Limit    int
}

type AssignmentFilter struct {
	RequestID  *uuid.UUID
	ExecutorID *uuid.UUID
	Limit      int
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func emptyToNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringArray(items []string) pq.StringArray {
	if items == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(items)
}

func scanExecutor(row rowScanner) (models.Executor, error) {
	var (
		e         models.Executor
		email     sql.NullString
		timezone  sql.NullString
		skills    pq.StringArray
		languages pq.StringArray
	)
	err := row.Scan(
		&e.ID,
		&e.Name,
		&email,
		&e.Role,
		&e.Status,
		&skills,
		&languages,
		&timezone,
		&e.ExperienceYears,
		&e.DailyLimit,
		&e.CurrentLoad,
		&e.SuccessRate,
		&e.Weight,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return models.Executor{}, err
	}
	e.Email = email.String
	e.Timezone = timezone.String
	e.Skills = []string(skills)
	e.Languages = []string(languages)
	return e, nil
}

const executorColumns = `id, name, email, role, status, skills, languages, timezone,
		       experience_years, daily_limit, current_load, success_rate, weight, created_at, updated_at`

func (s *PGStore) CreateExecutor(ctx context.Context, in ExecutorInput) (models.Executor, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO executors (id, name, email, role, status, skills, languages, timezone,
		                       experience_years, daily_limit, current_load, success_rate, weight)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12)
		RETURNING ` + executorColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.Name, emptyToNil(in.Email), in.Role, in.Status,
		stringArray(in.Skills), stringArray(in.Languages), emptyToNil(in.Timezone),
		in.ExperienceYears, in.DailyLimit, in.SuccessRate, in.Weight,
	)
	executor, err := scanExecutor(row)
	if err != nil {
		return models.Executor{}, fmt.Errorf("insert executor: %w", err)
	}
	return executor, nil
}

func (s *PGStore) GetExecutor(ctx context.Context, id uuid.UUID) (models.Executor, error) {
	query := `SELECT ` + executorColumns + ` FROM executors WHERE id = $1`
	executor, err := scanExecutor(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Executor{}, ErrNotFound
		}
		return models.Executor{}, fmt.Errorf("get executor: %w", err)
	}
	return executor, nil
}

func (s *PGStore) ListExecutors(ctx context.Context, filter ExecutorFilter) ([]models.Executor, error) {
	query := `SELECT ` + executorColumns + ` FROM executors WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if filter.Role != "" {
		query += fmt.Sprintf(" AND role = $%d", argPos)
		args = append(args, filter.Role)
		argPos++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Skill != "" {
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM unnest(skills) AS s WHERE LOWER(s) = LOWER($%d))", argPos)
		args = append(args, filter.Skill)
		argPos++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	defer rows.Close()

	var executors []models.Executor
	for rows.Next() {
		executor, err := scanExecutor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan executor: %w", err)
		}
		executors = append(executors, executor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executors: %w", err)
	}
	return executors, nil
}

func (s *PGStore) UpdateExecutor(ctx context.Context, id uuid.UUID, in ExecutorInput) (models.Executor, error) {
	query := `
		UPDATE executors
		SET name=$2, email=$3, role=$4, status=$5, skills=$6, languages=$7, timezone=$8,
		    experience_years=$9, daily_limit=$10, success_rate=$11, weight=$12, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + executorColumns
	row := s.db.QueryRowContext(ctx, query,
		id, in.Name, emptyToNil(in.Email), in.Role, in.Status,
		stringArray(in.Skills), stringArray(in.Languages), emptyToNil(in.Timezone),
		in.ExperienceYears, in.DailyLimit, in.SuccessRate, in.Weight,
	)
	executor, err := scanExecutor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Executor{}, ErrNotFound
		}
		return models.Executor{}, fmt.Errorf("update executor: %w", err)
	}
	return executor, nil
}

func (s *PGStore) DeleteExecutor(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executors WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete executor: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustExecutorLoad applies the delta atomically. With enforceLimit set,
// positive deltas are rejected with ErrCapacityExceeded when they would
// pass the daily limit; manual overrides pass false and only get the
// non-negative clamp. The guard lives in the UPDATE predicate so two
// processes cannot both observe a free slot and overcommit.
func (s *PGStore) AdjustExecutorLoad(ctx context.Context, id uuid.UUID, delta int, enforceLimit bool) (models.Executor, error) {
	query := `
		UPDATE executors
		SET current_load = GREATEST(current_load + $2, 0), updated_at = NOW()
		WHERE id=$1
		  AND (NOT $3 OR $2 <= 0 OR daily_limit <= 0 OR current_load + $2 <= daily_limit)
		RETURNING ` + executorColumns
	executor, err := scanExecutor(s.db.QueryRowContext(ctx, query, id, delta, enforceLimit))
	if err == nil {
		return executor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Executor{}, fmt.Errorf("adjust executor load: %w", err)
	}
	// Guard tripped or executor gone; tell the two cases apart.
	var exists bool
	checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM executors WHERE id=$1)`, id).Scan(&exists)
	if checkErr != nil {
		return models.Executor{}, fmt.Errorf("adjust executor load: %w", checkErr)
	}
	if !exists {
		return models.Executor{}, ErrNotFound
	}
	return models.Executor{}, ErrCapacityExceeded
}

func (s *PGStore) SetExecutorSuccessRate(ctx context.Context, id uuid.UUID, rate float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executors SET success_rate=$2, updated_at=NOW() WHERE id=$1`, id, rate)
	if err != nil {
		return fmt.Errorf("set success rate: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
