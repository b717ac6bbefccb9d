package main

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

type DBDialect string

const (
	dialectSQLite   DBDialect = "sqlite"
	dialectPostgres DBDialect = "postgres"
	dialectNone     DBDialect = "none"
)

type SQLRepository struct {
	dialect DBDialect
	db      *sql.DB
}

// SessionRecord is the persisted summary of a session, rewritten on every state change.
type SessionRecord struct {
	ID        string          `json:"id"`
	Kind      SessionKind     `json:"kind"`
	State     SessionState    `json:"state"`
	Roles     map[Role]string `json:"roles"`
	Trials    int             `json:"trials"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// InjectionRecord logs one injection attempt. Goal.Index is noIntent when nothing was placed.
type InjectionRecord struct {
	SessionID      string            `json:"sessionId"`
	TrialIndex     int               `json:"trialIndex"`
	ConflictedGoal int               `json:"conflictedGoal"`
	Condition      DistanceCondition `json:"distanceCondition"`
	Goal           Goal              `json:"goal"`
	Failed         bool              `json:"failed"`
	Reason         string            `json:"reason,omitempty"`
	At             time.Time         `json:"at"`
}

type OutcomeRecord struct {
	SessionID  string       `json:"sessionId"`
	Outcome    TrialOutcome `json:"outcome"`
	RecordedAt time.Time    `json:"recordedAt"`
}

// openRepository returns a nil repository when persistence is switched off.
func openRepository(cfg Config) (*SQLRepository, error) {
	var driverName string
	var dsn string
	switch cfg.DBDialect {
	case dialectNone:
		return nil, nil
	case dialectSQLite:
		driverName = "sqlite"
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join("tmp", "grid_rendezvous.sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn = path
	case dialectPostgres:
		driverName = "pgx"
		dsn = cfg.PostgresDSN
		if dsn == "" {
			return nil, errors.New("DB_DIALECT=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", cfg.DBDialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDialect, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.DBDialect, err)
	}

	repo := &SQLRepository{dialect: cfg.DBDialect, db: db}
	if err := repo.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("[db] dialect=%s", cfg.DBDialect)
	return repo, nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) bind(pos int) string {
	if r.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", pos)
	}
	return "?"
}

func (r *SQLRepository) insertQuery(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = r.bind(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
	)
}

func (r *SQLRepository) applyMigrations(ctx context.Context) error {
	create := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema migrations: %w", err)
	}
	rows.Close()

	pattern := fmt.Sprintf("migrations/%s/*.sql", r.dialect)
	files, err := fs.Glob(migrationFS, pattern)
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		base := filepath.Base(file)
		if applied[base] {
			continue
		}
		sqlBytes, err := migrationFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		err = r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
			q := r.insertQuery("schema_migrations", []string{"version", "applied_at"})
			if _, err := tx.ExecContext(ctx, q, base, time.Now().UTC()); err != nil {
				return fmt.Errorf("record migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("[db] applied migration %s", base)
	}
	return nil
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// replaceRow deletes rows matching keys and inserts a fresh one, which keeps the upsert
// portable across both dialects.
func (r *SQLRepository) replaceRow(ctx context.Context, table string, keys []string, cols []string, vals []any) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		where := make([]string, len(keys))
		for i, k := range keys {
			where[i] = fmt.Sprintf("%s = %s", k, r.bind(i+1))
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(where, " AND "))
		if _, err := tx.ExecContext(ctx, q, vals[:len(keys)]...); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		return r.insertRow(ctx, tx, table, cols, vals)
	})
}

func (r *SQLRepository) insertRow(ctx context.Context, tx *sql.Tx, table string, cols []string, vals []any) error {
	q := r.insertQuery(table, cols)
	if _, err := tx.ExecContext(ctx, q, vals...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (r *SQLRepository) SaveSession(ctx context.Context, rec SessionRecord) error {
	return r.replaceRow(ctx, "sessions", []string{"id"},
		[]string{"id", "kind", "state", "trials", "reason", "payload", "created_at", "updated_at"},
		[]any{rec.ID, string(rec.Kind), string(rec.State), rec.Trials, rec.Reason, asJSON(rec), rec.CreatedAt, rec.UpdatedAt},
	)
}

// SaveOutcome is idempotent per (session, trial).
func (r *SQLRepository) SaveOutcome(ctx context.Context, rec OutcomeRecord) error {
	o := rec.Outcome
	return r.replaceRow(ctx, "trial_outcomes", []string{"session_id", "trial_index"},
		[]string{"session_id", "trial_index", "same_goal", "timed_out", "steps", "payload", "recorded_at"},
		[]any{rec.SessionID, o.TrialIndex, o.BothReachedSameGoal, o.TimedOut, o.StepCountAtEnd, asJSON(rec), rec.RecordedAt},
	)
}

func (r *SQLRepository) SaveInjection(ctx context.Context, rec InjectionRecord) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return r.insertRow(ctx, tx, "goal_injections",
			[]string{"session_id", "trial_index", "conflicted_goal", "distance_condition", "failed", "payload", "recorded_at"},
			[]any{rec.SessionID, rec.TrialIndex, rec.ConflictedGoal, string(rec.Condition), rec.Failed, asJSON(rec), rec.At},
		)
	})
}

func (r *SQLRepository) LoadSession(ctx context.Context, id string) (SessionRecord, error) {
	var payload string
	q := fmt.Sprintf("SELECT payload FROM sessions WHERE id = %s", r.bind(1))
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		return SessionRecord{}, fmt.Errorf("load session %s: %w", id, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

// SessionOutcomes returns a session's recorded history in trial order.
func (r *SQLRepository) SessionOutcomes(ctx context.Context, sessionID string) ([]TrialOutcome, error) {
	q := fmt.Sprintf("SELECT payload FROM trial_outcomes WHERE session_id = %s ORDER BY trial_index", r.bind(1))
	var out []TrialOutcome
	err := loadPayloadRows(ctx, r.db, q, []any{sessionID}, func(payload string) error {
		var rec OutcomeRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return err
		}
		out = append(out, rec.Outcome)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load outcomes for %s: %w", sessionID, err)
	}
	return out, nil
}

func (r *SQLRepository) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	q := fmt.Sprintf("SELECT payload FROM trial_outcomes ORDER BY recorded_at DESC LIMIT %d", limit)
	var out []OutcomeRecord
	err := loadPayloadRows(ctx, r.db, q, nil, func(payload string) error {
		var rec OutcomeRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load recent outcomes: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Injections(ctx context.Context, sessionID string) ([]InjectionRecord, error) {
	q := fmt.Sprintf("SELECT payload FROM goal_injections WHERE session_id = %s ORDER BY id", r.bind(1))
	var out []InjectionRecord
	err := loadPayloadRows(ctx, r.db, q, []any{sessionID}, func(payload string) error {
		var rec InjectionRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load injections for %s: %w", sessionID, err)
	}
	return out, nil
}

func asJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func loadPayloadRows(ctx context.Context, db *sql.DB, q string, args []any, fn func(payload string) error) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Recorder receives session events for persistence. Implementations must not block the
// session loop.
type Recorder interface {
	SessionChanged(rec SessionRecord)
	TrialCompleted(sessionID string, outcome TrialOutcome)
	GoalInjection(rec InjectionRecord)
}

type nopRecorder struct{}

func (nopRecorder) SessionChanged(SessionRecord)        {}
func (nopRecorder) TrialCompleted(string, TrialOutcome) {}
func (nopRecorder) GoalInjection(InjectionRecord)       {}

// sqlRecorder writes events on a single background goroutine. When the queue is full the
// event is dropped and counted.
type sqlRecorder struct {
	repo    *SQLRepository
	queue   chan func(ctx context.Context) error
	dropped atomic.Int64
	written atomic.Int64
}

func newSQLRecorder(repo *SQLRepository, buffer int) *sqlRecorder {
	if buffer < 1 {
		buffer = 1
	}
	return &sqlRecorder{repo: repo, queue: make(chan func(ctx context.Context) error, buffer)}
}

func (rec *sqlRecorder) enqueue(what string, fn func(ctx context.Context) error) {
	select {
	case rec.queue <- fn:
	default:
		n := rec.dropped.Add(1)
		log.Printf("[db] recorder queue full, dropped %s (total dropped %d)", what, n)
	}
}

func (rec *sqlRecorder) SessionChanged(s SessionRecord) {
	rec.enqueue("session "+shortID(s.ID), func(ctx context.Context) error {
		return rec.repo.SaveSession(ctx, s)
	})
}

func (rec *sqlRecorder) TrialCompleted(sessionID string, outcome TrialOutcome) {
	row := OutcomeRecord{SessionID: sessionID, Outcome: outcome, RecordedAt: time.Now().UTC()}
	rec.enqueue("outcome "+shortID(sessionID), func(ctx context.Context) error {
		return rec.repo.SaveOutcome(ctx, row)
	})
}

func (rec *sqlRecorder) GoalInjection(r InjectionRecord) {
	rec.enqueue("injection "+shortID(r.SessionID), func(ctx context.Context) error {
		return rec.repo.SaveInjection(ctx, r)
	})
}

// Run drains the queue until ctx is cancelled, then flushes what is left. Writes use their
// own deadline so a cancelled ctx never aborts a queued event.
func (rec *sqlRecorder) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-rec.queue:
			rec.write(fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-rec.queue:
					rec.write(fn)
				default:
					return nil
				}
			}
		}
	}
}

func (rec *sqlRecorder) write(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("[db] record failed: %v", err)
		return
	}
	rec.written.Add(1)
}
