// Package store provides SQLite-backed persistence for pgxdash: run history,
// per-gene outcomes, the progress event log, the API response cache, and the
// PDR audit trail.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/pgxdash/internal/models"
)

// ErrRunNotFound is returned when updating a run that does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store provides access to the pgxdash SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		patient_id TEXT,
		genes TEXT NOT NULL,
		status TEXT NOT NULL,
		overall_status TEXT,
		report TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS gene_outcomes (
		run_id TEXT NOT NULL,
		gene TEXT NOT NULL,
		state TEXT NOT NULL,
		error_kind TEXT,
		detail TEXT,
		variants INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		PRIMARY KEY (run_id, gene),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS run_events (
		run_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		stage TEXT NOT NULL,
		gene TEXT,
		level TEXT NOT NULL,
		message TEXT,
		progress REAL NOT NULL DEFAULT 0,
		payload TEXT,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (run_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS api_cache (
		key TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		body BLOB NOT NULL,
		fetched_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		run_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_pdr_run_id ON pdr(run_id);
	CREATE INDEX IF NOT EXISTS idx_api_cache_source ON api_cache(source);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// CreateRun inserts a run record in the running state.
func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	genes, err := json.Marshal(run.Genes)
	if err != nil {
		return fmt.Errorf("encode genes: %w", err)
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, patient_id, genes, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.PatientID, string(genes), run.Status, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the final status and report of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status models.RunStatus, rep *models.MultiGeneReport) error {
	var overall, body sql.NullString
	finishedAt := time.Now().UTC()
	if rep != nil {
		data, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		body = sql.NullString{String: string(data), Valid: true}
		overall = sql.NullString{String: string(rep.OverallStatus), Valid: true}
		if !rep.FinishedAt.IsZero() {
			finishedAt = rep.FinishedAt.UTC()
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, overall_status = ?, report = ?, finished_at = ? WHERE id = ?`,
		status, overall, body, finishedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run and its report by ID. It returns nil if the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, genes, status, overall_status, report, started_at, finished_at FROM runs WHERE id = ?`,
		id,
	)
	run, report, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if report.Valid {
		var rep models.MultiGeneReport
		if err := json.Unmarshal([]byte(report.String), &rep); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		run.Report = &rep
	}
	return run, nil
}

// ListRuns returns the most recent runs without their reports, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, genes, status, overall_status, NULL, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, _, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, sql.NullString, error) {
	var (
		run        models.Run
		patientID  sql.NullString
		genes      string
		overall    sql.NullString
		report     sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &patientID, &genes, &run.Status, &overall, &report, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, report, err
	}
	if err := json.Unmarshal([]byte(genes), &run.Genes); err != nil {
		return nil, report, fmt.Errorf("decode genes: %w", err)
	}
	run.PatientID = patientID.String
	run.OverallStatus = models.OverallStatus(overall.String)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, report, nil
}

// --- Gene Outcome Operations ---

// SaveGeneOutcomes writes the per-gene outcomes of a run in a single transaction.
func (s *Store) SaveGeneOutcomes(ctx context.Context, runID string, outcomes []models.GeneOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO gene_outcomes (run_id, gene, state, error_kind, detail, variants, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		var kind, detail, result sql.NullString
		variants := 0
		if o.Failure != nil {
			kind = sql.NullString{String: string(o.Failure.Kind), Valid: true}
			detail = sql.NullString{String: o.Failure.Detail, Valid: true}
		}
		if o.Result != nil {
			data, err := json.Marshal(o.Result)
			if err != nil {
				return fmt.Errorf("encode result for %s: %w", o.Gene, err)
			}
			result = sql.NullString{String: string(data), Valid: true}
			variants = len(o.Result.Variants)
		}
		if _, err := stmt.ExecContext(ctx, runID, o.Gene, o.State, kind, detail, variants, result); err != nil {
			return fmt.Errorf("insert outcome for %s: %w", o.Gene, err)
		}
	}
	return tx.Commit()
}

// GeneOutcomeRow is the summary of one persisted gene outcome.
type GeneOutcomeRow struct {
	Gene     string
	State    models.TaskState
	Kind     models.ErrorKind
	Detail   string
	Variants int
}

// GetGeneOutcomes lists the outcome rows of a run ordered by gene.
func (s *Store) GetGeneOutcomes(ctx context.Context, runID string) ([]GeneOutcomeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gene, state, error_kind, detail, variants FROM gene_outcomes WHERE run_id = ? ORDER BY gene`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []GeneOutcomeRow
	for rows.Next() {
		var r GeneOutcomeRow
		var kind, detail sql.NullString
		if err := rows.Scan(&r.Gene, &r.State, &kind, &detail, &r.Variants); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Kind = models.ErrorKind(kind.String)
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Event Operations ---

// AppendEvents persists drained progress events.
func (s *Store) AppendEvents(ctx context.Context, evs []models.ProgressEvent) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO run_events (run_id, sequence, stage, gene, level, message, progress, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		var payload sql.NullString
		if len(ev.Payload) > 0 {
			payload = sql.NullString{String: string(ev.Payload), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, ev.RunID, int64(ev.Sequence), ev.Stage, ev.Gene, ev.Level,
			ev.Message, ev.Progress, payload, ev.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Sequence, err)
		}
	}
	return tx.Commit()
}

// GetEvents returns the events of a run with a sequence greater than after.
func (s *Store) GetEvents(ctx context.Context, runID string, after uint64, limit int) ([]models.ProgressEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, stage, gene, level, message, progress, payload, timestamp
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence LIMIT ?`,
		runID, int64(after), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var evs []models.ProgressEvent
	for rows.Next() {
		var ev models.ProgressEvent
		var seq int64
		var gene, message, payload sql.NullString
		if err := rows.Scan(&ev.RunID, &seq, &ev.Stage, &gene, &ev.Level, &message, &ev.Progress, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Sequence = uint64(seq)
		ev.Gene = gene.String
		ev.Message = message.String
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// --- Cache Operations ---

// GetCached returns a cached body for key if it is younger than maxAge.
func (s *Store) GetCached(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error) {
	var body []byte
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT body, fetched_at FROM api_cache WHERE key = ?`, key,
	).Scan(&body, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}
	if maxAge > 0 && time.Since(fetchedAt) > maxAge {
		return nil, false, nil
	}
	return body, true, nil
}

// PutCached stores body under key, replacing any previous entry.
func (s *Store) PutCached(ctx context.Context, key, source string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO api_cache (key, source, body, fetched_at) VALUES (?, ?, ?, ?)`,
		key, source, body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cache: %w", err)
	}
	return nil
}

// PruneCache deletes cache entries older than maxAge and returns how many were removed.
func (s *Store) PruneCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_cache WHERE fetched_at < ?`, time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, runID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		RunID:      runID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, run_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.RunID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the audit records of a run in the order they were written.
func (s *Store) ListPDR(ctx context.Context, runID string) ([]models.PDREntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, run_id, details, timestamp FROM pdr WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var rid, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &rid, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.RunID = rid.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
