// Package postgres is the PostgreSQL-backed state.StateStore: a single
// sqlx.DB connection pool over pgx's stdlib driver, with goose-managed
// migrations embedded into the binary.
//
// Grounded in
// _examples/original_source/crates/llm-orchestrator-state/src/postgres.rs.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/state"
)

// DriverPgx and DriverLibPQ name the two registered database/sql
// drivers a Config may select. pgx is the default: lib/pq is kept
// available for operators standardized on it (e.g. to reuse an
// existing pg_bouncer/lib/pq-tuned deployment) without a code change.
const (
	DriverPgx   = "pgx"
	DriverLibPQ = "postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures the connection pool. Values mirror
// postgres.rs::PostgresStateStore::new's documented defaults.
type Config struct {
	DSN             string
	Driver          string
	MinConnections  int
	MaxConnections  int
	AcquireTimeout  time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverPgx
	}
	if c.MinConnections == 0 {
		c.MinConnections = 5
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 20
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 300 * time.Second
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 1800 * time.Second
	}
}

// Store is the PostgreSQL StateStore implementation.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// New opens a connection pool against cfg.DSN and applies the embedded
// migrations.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (*Store, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	log.WithFields(logrus.Fields{"min_connections": cfg.MinConnections, "max_connections": cfg.MaxConnections}).
		Info("initializing postgres state store")

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to connect to postgres")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	s.log.Info("running database migrations")
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to set goose dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "migration failed")
	}
	s.log.Info("database migrations completed successfully")
	return nil
}

var _ state.StateStore = (*Store)(nil)

// SaveWorkflowState upserts ws and every one of its step states in a
// single transaction.
func (s *Store) SaveWorkflowState(ctx context.Context, ws *state.WorkflowState) error {
	s.log.WithFields(logrus.Fields{"id": ws.ID, "workflow_id": ws.WorkflowID}).Debug("saving workflow state")

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to begin transaction")
	}
	defer tx.Rollback()

	inputsJSON, err := json.Marshal(ws.Inputs)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to serialize inputs")
	}
	outputsJSON, err := json.Marshal(ws.Outputs)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to serialize outputs")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_states (
			id, workflow_id, workflow_name, status, user_id,
			started_at, updated_at, completed_at, inputs, outputs, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			inputs = EXCLUDED.inputs,
			outputs = EXCLUDED.outputs,
			error = EXCLUDED.error
	`, ws.ID, ws.WorkflowID, ws.WorkflowName, string(ws.Status), ws.UserID,
		ws.StartedAt, ws.UpdatedAt, ws.CompletedAt, inputsJSON, outputsJSON, ws.Error)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to upsert workflow state")
	}

	for stepID, step := range ws.Steps {
		stepOutputsJSON, err := json.Marshal(step.Outputs)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to serialize step outputs")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_states (
				workflow_state_id, step_id, status, started_at, completed_at,
				outputs, error, retry_count
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (workflow_state_id, step_id) DO UPDATE SET
				status = EXCLUDED.status,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				outputs = EXCLUDED.outputs,
				error = EXCLUDED.error,
				retry_count = EXCLUDED.retry_count
		`, ws.ID, stepID, string(step.Status), step.StartedAt, step.CompletedAt,
			stepOutputsJSON, step.Error, step.RetryCount)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to upsert step state")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to commit transaction")
	}
	s.log.WithField("id", ws.ID).Debug("workflow state saved successfully")
	return nil
}

type workflowStateRow struct {
	ID           uuid.UUID      `db:"id"`
	WorkflowID   string         `db:"workflow_id"`
	WorkflowName string         `db:"workflow_name"`
	Status       string         `db:"status"`
	UserID       sql.NullString `db:"user_id"`
	StartedAt    time.Time      `db:"started_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Inputs       []byte         `db:"inputs"`
	Outputs      []byte         `db:"outputs"`
	Error        sql.NullString `db:"error"`
}

type stepStateRow struct {
	StepID      string         `db:"step_id"`
	Status      string         `db:"status"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Outputs     []byte         `db:"outputs"`
	Error       sql.NullString `db:"error"`
	RetryCount  int            `db:"retry_count"`
}

func (row workflowStateRow) toState() (*state.WorkflowState, error) {
	ws := &state.WorkflowState{
		ID:           row.ID,
		WorkflowID:   row.WorkflowID,
		WorkflowName: row.WorkflowName,
		Status:       state.WorkflowStatus(row.Status),
		StartedAt:    row.StartedAt,
		UpdatedAt:    row.UpdatedAt,
		Steps:        map[string]state.StepState{},
	}
	if row.UserID.Valid {
		ws.UserID = &row.UserID.String
	}
	if row.CompletedAt.Valid {
		ws.CompletedAt = &row.CompletedAt.Time
	}
	if row.Error.Valid {
		ws.Error = &row.Error.String
	}
	if len(row.Inputs) > 0 {
		if err := json.Unmarshal(row.Inputs, &ws.Inputs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize inputs")
		}
	}
	if len(row.Outputs) > 0 {
		if err := json.Unmarshal(row.Outputs, &ws.Outputs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize outputs")
		}
	}
	return ws, nil
}

func (row stepStateRow) toStepState() (state.StepState, error) {
	ss := state.StepState{
		StepID:     row.StepID,
		Status:     state.StepStatus(row.Status),
		RetryCount: row.RetryCount,
	}
	if row.StartedAt.Valid {
		ss.StartedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		ss.CompletedAt = &row.CompletedAt.Time
	}
	if row.Error.Valid {
		ss.Error = &row.Error.String
	}
	if len(row.Outputs) > 0 {
		if err := json.Unmarshal(row.Outputs, &ss.Outputs); err != nil {
			return ss, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize step outputs")
		}
	}
	return ss, nil
}

// LoadWorkflowState loads a workflow state and its step states by id.
func (s *Store) LoadWorkflowState(ctx context.Context, id uuid.UUID) (*state.WorkflowState, error) {
	var row workflowStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, workflow_id, workflow_name, status, user_id,
		       started_at, updated_at, completed_at, inputs, outputs, error
		FROM workflow_states WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrorTypeStepNotFound, fmt.Sprintf("workflow state %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to load workflow state")
	}

	ws, err := row.toState()
	if err != nil {
		return nil, err
	}

	var stepRows []stepStateRow
	if err := s.db.SelectContext(ctx, &stepRows, `
		SELECT step_id, status, started_at, completed_at, outputs, error, retry_count
		FROM step_states WHERE workflow_state_id = $1
	`, id); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to load step states")
	}
	for _, sr := range stepRows {
		ss, err := sr.toStepState()
		if err != nil {
			return nil, err
		}
		ws.Steps[sr.StepID] = ss
	}
	return ws, nil
}

// LoadWorkflowStateByWorkflowID loads the most recently updated state
// row for workflowID.
func (s *Store) LoadWorkflowStateByWorkflowID(ctx context.Context, workflowID string) (*state.WorkflowState, error) {
	var id uuid.UUID
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM workflow_states WHERE workflow_id = $1 ORDER BY updated_at DESC LIMIT 1
	`, workflowID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrorTypeStepNotFound, fmt.Sprintf("no workflow state for workflow_id %q", workflowID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to look up workflow state")
	}
	return s.LoadWorkflowState(ctx, id)
}

// ListActiveWorkflows returns every state whose status is pending,
// running, or paused.
func (s *Store) ListActiveWorkflows(ctx context.Context) ([]*state.WorkflowState, error) {
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM workflow_states
		WHERE status IN ('running', 'pending', 'paused')
		ORDER BY updated_at DESC
	`); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to list active workflows")
	}

	out := make([]*state.WorkflowState, 0, len(ids))
	for _, id := range ids {
		ws, err := s.LoadWorkflowState(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("id", id).Warn("failed to load active workflow state; skipping")
			continue
		}
		out = append(out, ws)
	}
	return out, nil
}

// CreateCheckpoint persists cp and prunes old checkpoints for the same
// workflow state beyond DefaultCheckpointRetention.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *state.Checkpoint) error {
	snapshotJSON, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to serialize checkpoint snapshot")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, workflow_state_id, step_id, "timestamp", snapshot)
		VALUES ($1, $2, $3, $4, $5)
	`, cp.ID, cp.WorkflowStateID, cp.StepID, cp.Timestamp, snapshotJSON)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to create checkpoint")
	}
	return s.CleanupOldCheckpoints(ctx, cp.WorkflowStateID, state.DefaultCheckpointRetention)
}

// GetLatestCheckpoint returns the most recent checkpoint for
// workflowStateID, or nil if none exist.
func (s *Store) GetLatestCheckpoint(ctx context.Context, workflowStateID uuid.UUID) (*state.Checkpoint, error) {
	type row struct {
		ID              uuid.UUID `db:"id"`
		WorkflowStateID uuid.UUID `db:"workflow_state_id"`
		StepID          string    `db:"step_id"`
		Timestamp       time.Time `db:"timestamp"`
		Snapshot        []byte    `db:"snapshot"`
	}
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, workflow_state_id, step_id, "timestamp", snapshot
		FROM checkpoints WHERE workflow_state_id = $1
		ORDER BY "timestamp" DESC LIMIT 1
	`, workflowStateID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to load latest checkpoint")
	}
	var snap state.CheckpointSnapshot
	if err := json.Unmarshal(r.Snapshot, &snap); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize checkpoint snapshot")
	}
	return &state.Checkpoint{ID: r.ID, WorkflowStateID: r.WorkflowStateID, StepID: r.StepID, Timestamp: r.Timestamp, Snapshot: snap}, nil
}

// RestoreFromCheckpoint loads a checkpoint by id.
func (s *Store) RestoreFromCheckpoint(ctx context.Context, checkpointID uuid.UUID) (*state.Checkpoint, error) {
	type row struct {
		ID              uuid.UUID `db:"id"`
		WorkflowStateID uuid.UUID `db:"workflow_state_id"`
		StepID          string    `db:"step_id"`
		Timestamp       time.Time `db:"timestamp"`
		Snapshot        []byte    `db:"snapshot"`
	}
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, workflow_state_id, step_id, "timestamp", snapshot
		FROM checkpoints WHERE id = $1
	`, checkpointID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrorTypeStepNotFound, fmt.Sprintf("checkpoint %s not found", checkpointID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to load checkpoint")
	}
	var snap state.CheckpointSnapshot
	if err := json.Unmarshal(r.Snapshot, &snap); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize checkpoint snapshot")
	}
	return &state.Checkpoint{ID: r.ID, WorkflowStateID: r.WorkflowStateID, StepID: r.StepID, Timestamp: r.Timestamp, Snapshot: snap}, nil
}

// DeleteOldStates removes terminal state rows last updated more than
// olderThanDays ago.
func (s *Store) DeleteOldStates(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_states
		WHERE updated_at < $1 AND status IN ('completed', 'failed')
	`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to delete old workflow states")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to read rows affected")
	}
	return n, nil
}

// CleanupOldCheckpoints prunes all but the keepLast most recent
// checkpoints for workflowStateID.
func (s *Store) CleanupOldCheckpoints(ctx context.Context, workflowStateID uuid.UUID, keepLast int) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE workflow_state_id = $1
		  AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE workflow_state_id = $1
			ORDER BY "timestamp" DESC
			LIMIT $2
		  )
	`, workflowStateID, keepLast)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to clean up old checkpoints")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.WithField("deleted", n).Debug("cleaned up old checkpoints")
	}
	return nil
}

// HealthCheck verifies the pool can still reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "postgres health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
