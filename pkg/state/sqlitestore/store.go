// Package sqlitestore is the embedded-file state.StateStore backend:
// a single-file SQLite database via mattn/go-sqlite3, for single-node
// deployments and local development that don't warrant a PostgreSQL
// instance. Same schema and goose migration set as pkg/state/postgres,
// adapted to SQLite's type affinities (TEXT ids/timestamps/JSON blobs).
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/state"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTimeLayout keeps all nine fractional digits so that the TEXT
// timestamp columns sort chronologically under string comparison.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite StateStore implementation.
type Store struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// New opens (creating if absent) the SQLite database file at path and
// applies the embedded migrations.
func New(ctx context.Context, path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.WithField("path", path).Info("initializing sqlite state store")

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to open sqlite database")
	}
	// mattn/go-sqlite3 does not support concurrent writers on the same
	// connection pool; a single connection keeps writes serialized
	// without needing WAL-mode tuning for this embedded deployment mode.
	db.SetMaxOpenConns(1)

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
	if err := goose.SetDialect("sqlite3"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to set goose dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "migration failed")
	}
	s.log.Info("database migrations completed successfully")
	return nil
}

var _ state.StateStore = (*Store)(nil)

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) { return time.Parse(sqliteTimeLayout, s) }

// SaveWorkflowState upserts ws and every one of its step states in a
// single transaction.
func (s *Store) SaveWorkflowState(ctx context.Context, ws *state.WorkflowState) error {
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

	var userID sql.NullString
	if ws.UserID != nil {
		userID = sql.NullString{String: *ws.UserID, Valid: true}
	}
	var errStr sql.NullString
	if ws.Error != nil {
		errStr = sql.NullString{String: *ws.Error, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_states (
			id, workflow_id, workflow_name, status, user_id,
			started_at, updated_at, completed_at, inputs, outputs, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			error = excluded.error
	`, ws.ID.String(), ws.WorkflowID, ws.WorkflowName, string(ws.Status), userID,
		formatTime(ws.StartedAt), formatTime(ws.UpdatedAt), formatTimePtr(ws.CompletedAt),
		string(inputsJSON), string(outputsJSON), errStr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to upsert workflow state")
	}

	for stepID, step := range ws.Steps {
		stepOutputsJSON, err := json.Marshal(step.Outputs)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to serialize step outputs")
		}
		var stepErr sql.NullString
		if step.Error != nil {
			stepErr = sql.NullString{String: *step.Error, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_states (
				workflow_state_id, step_id, status, started_at, completed_at,
				outputs, error, retry_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(workflow_state_id, step_id) DO UPDATE SET
				status = excluded.status,
				started_at = excluded.started_at,
				completed_at = excluded.completed_at,
				outputs = excluded.outputs,
				error = excluded.error,
				retry_count = excluded.retry_count
		`, ws.ID.String(), stepID, string(step.Status), formatTimePtr(step.StartedAt), formatTimePtr(step.CompletedAt),
			string(stepOutputsJSON), stepErr, step.RetryCount)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to upsert step state")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to commit transaction")
	}
	return nil
}

type workflowStateRow struct {
	ID           string         `db:"id"`
	WorkflowID   string         `db:"workflow_id"`
	WorkflowName string         `db:"workflow_name"`
	Status       string         `db:"status"`
	UserID       sql.NullString `db:"user_id"`
	StartedAt    string         `db:"started_at"`
	UpdatedAt    string         `db:"updated_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
	Inputs       string         `db:"inputs"`
	Outputs      string         `db:"outputs"`
	Error        sql.NullString `db:"error"`
}

func (row workflowStateRow) toState() (*state.WorkflowState, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid workflow state id")
	}
	started, err := parseTime(row.StartedAt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid started_at")
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid updated_at")
	}
	ws := &state.WorkflowState{
		ID:           id,
		WorkflowID:   row.WorkflowID,
		WorkflowName: row.WorkflowName,
		Status:       state.WorkflowStatus(row.Status),
		StartedAt:    started,
		UpdatedAt:    updated,
		Steps:        map[string]state.StepState{},
	}
	if row.UserID.Valid {
		ws.UserID = &row.UserID.String
	}
	if row.CompletedAt.Valid {
		t, err := parseTime(row.CompletedAt.String)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid completed_at")
		}
		ws.CompletedAt = &t
	}
	if row.Error.Valid {
		ws.Error = &row.Error.String
	}
	if row.Inputs != "" {
		if err := json.Unmarshal([]byte(row.Inputs), &ws.Inputs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize inputs")
		}
	}
	if row.Outputs != "" {
		if err := json.Unmarshal([]byte(row.Outputs), &ws.Outputs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize outputs")
		}
	}
	return ws, nil
}

type stepStateRow struct {
	StepID      string         `db:"step_id"`
	Status      string         `db:"status"`
	StartedAt   sql.NullString `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
	Outputs     string         `db:"outputs"`
	Error       sql.NullString `db:"error"`
	RetryCount  int            `db:"retry_count"`
}

func (row stepStateRow) toStepState() (state.StepState, error) {
	ss := state.StepState{StepID: row.StepID, Status: state.StepStatus(row.Status), RetryCount: row.RetryCount}
	if row.StartedAt.Valid {
		t, err := parseTime(row.StartedAt.String)
		if err != nil {
			return ss, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid step started_at")
		}
		ss.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t, err := parseTime(row.CompletedAt.String)
		if err != nil {
			return ss, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid step completed_at")
		}
		ss.CompletedAt = &t
	}
	if row.Error.Valid {
		ss.Error = &row.Error.String
	}
	if row.Outputs != "" {
		if err := json.Unmarshal([]byte(row.Outputs), &ss.Outputs); err != nil {
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
		FROM workflow_states WHERE id = ?
	`, id.String())
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
		FROM step_states WHERE workflow_state_id = ?
	`, id.String()); err != nil {
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
	var idStr string
	err := s.db.GetContext(ctx, &idStr, `
		SELECT id FROM workflow_states WHERE workflow_id = ? ORDER BY updated_at DESC LIMIT 1
	`, workflowID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrorTypeStepNotFound, fmt.Sprintf("no workflow state for workflow_id %q", workflowID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to look up workflow state")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid workflow state id")
	}
	return s.LoadWorkflowState(ctx, id)
}

// ListActiveWorkflows returns every state whose status is pending,
// running, or paused.
func (s *Store) ListActiveWorkflows(ctx context.Context) ([]*state.WorkflowState, error) {
	var idStrs []string
	if err := s.db.SelectContext(ctx, &idStrs, `
		SELECT id FROM workflow_states
		WHERE status IN ('running', 'pending', 'paused')
		ORDER BY updated_at DESC
	`); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to list active workflows")
	}

	out := make([]*state.WorkflowState, 0, len(idStrs))
	for _, idStr := range idStrs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
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
		INSERT INTO checkpoints (id, workflow_state_id, step_id, timestamp, snapshot)
		VALUES (?, ?, ?, ?, ?)
	`, cp.ID.String(), cp.WorkflowStateID.String(), cp.StepID, formatTime(cp.Timestamp), string(snapshotJSON))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to create checkpoint")
	}
	return s.CleanupOldCheckpoints(ctx, cp.WorkflowStateID, state.DefaultCheckpointRetention)
}

func (s *Store) loadCheckpointByQuery(ctx context.Context, query string, args ...interface{}) (*state.Checkpoint, error) {
	type row struct {
		ID              string `db:"id"`
		WorkflowStateID string `db:"workflow_state_id"`
		StepID          string `db:"step_id"`
		Timestamp       string `db:"timestamp"`
		Snapshot        string `db:"snapshot"`
	}
	var r row
	err := s.db.GetContext(ctx, &r, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to load checkpoint")
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid checkpoint id")
	}
	wsID, err := uuid.Parse(r.WorkflowStateID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid workflow state id")
	}
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "invalid checkpoint timestamp")
	}
	var snap state.CheckpointSnapshot
	if err := json.Unmarshal([]byte(r.Snapshot), &snap); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeSerializationError, "failed to deserialize checkpoint snapshot")
	}
	return &state.Checkpoint{ID: id, WorkflowStateID: wsID, StepID: r.StepID, Timestamp: ts, Snapshot: snap}, nil
}

// GetLatestCheckpoint returns the most recent checkpoint for
// workflowStateID, or nil if none exist.
func (s *Store) GetLatestCheckpoint(ctx context.Context, workflowStateID uuid.UUID) (*state.Checkpoint, error) {
	return s.loadCheckpointByQuery(ctx, `
		SELECT id, workflow_state_id, step_id, timestamp, snapshot
		FROM checkpoints WHERE workflow_state_id = ?
		ORDER BY timestamp DESC LIMIT 1
	`, workflowStateID.String())
}

// RestoreFromCheckpoint loads a checkpoint by id.
func (s *Store) RestoreFromCheckpoint(ctx context.Context, checkpointID uuid.UUID) (*state.Checkpoint, error) {
	cp, err := s.loadCheckpointByQuery(ctx, `
		SELECT id, workflow_state_id, step_id, timestamp, snapshot
		FROM checkpoints WHERE id = ?
	`, checkpointID.String())
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, apperrors.New(apperrors.ErrorTypeStepNotFound, fmt.Sprintf("checkpoint %s not found", checkpointID))
	}
	return cp, nil
}

// DeleteOldStates removes terminal state rows last updated more than
// olderThanDays ago.
func (s *Store) DeleteOldStates(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := formatTime(time.Now().UTC().AddDate(0, 0, -olderThanDays))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_states
		WHERE updated_at < ? AND status IN ('completed', 'failed')
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
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE workflow_state_id = ?
		  AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE workflow_state_id = ?
			ORDER BY timestamp DESC
			LIMIT ?
		  )
	`, workflowStateID.String(), workflowStateID.String(), keepLast)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to clean up old checkpoints")
	}
	return nil
}

// HealthCheck verifies the database file is still reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeIoError, "sqlite health check failed")
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
