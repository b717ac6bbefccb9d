package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestRepository(t *testing.T) *SQLRepository {
	t.Helper()
	cfg := defaultConfig()
	cfg.DBDialect = dialectSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "state.sqlite")
	repo, err := openRepository(cfg)
	if err != nil {
		t.Fatalf("openRepository sqlite error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestOpenRepositoryErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.DBDialect = dialectPostgres
	cfg.PostgresDSN = ""
	repo, err := openRepository(cfg)
	if err == nil || !strings.Contains(err.Error(), "requires DB_POSTGRES_DSN or DATABASE_URL") {
		t.Fatalf("expected postgres DSN error, got repo=%v err=%v", repo, err)
	}

	cfg.DBDialect = "bogus"
	repo, err = openRepository(cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported DB_DIALECT") {
		t.Fatalf("expected unsupported dialect error, got repo=%v err=%v", repo, err)
	}

	cfg.DBDialect = dialectNone
	repo, err = openRepository(cfg)
	if err != nil || repo != nil {
		t.Fatalf("dialect none = %v, %v; want nil repository", repo, err)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	if err := repo.applyMigrations(ctx); err != nil {
		t.Fatalf("second applyMigrations error: %v", err)
	}
	var n int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", n)
	}
}

func TestRepositorySQLiteRoundTrip(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

	rec := SessionRecord{
		ID: "s1", Kind: Kind2P3G, State: StateActive,
		Roles:     map[Role]string{RoleFirst: "alice", RoleSecond: "bob"},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	rec.State = StateClosed
	rec.Trials = 2
	rec.Reason = "block finished"
	if err := repo.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}
	got, err := repo.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.State != StateClosed || got.Trials != 2 || got.Roles[RoleSecond] != "bob" {
		t.Fatalf("session mismatch after round-trip: %+v", got)
	}
	if _, err := repo.LoadSession(ctx, "missing"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("missing session err=%v", err)
	}

	for i, same := range []bool{false, true} {
		out := TrialOutcome{TrialIndex: i, BothReachedSameGoal: same, StepCountAtEnd: 10 + i, Condition: CondEqual}
		if err := repo.SaveOutcome(ctx, OutcomeRecord{SessionID: "s1", Outcome: out, RecordedAt: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SaveOutcome %d: %v", i, err)
		}
	}
	// Re-recording a trial replaces it.
	if err := repo.SaveOutcome(ctx, OutcomeRecord{SessionID: "s1", Outcome: TrialOutcome{TrialIndex: 1, BothReachedSameGoal: true, StepCountAtEnd: 11}, RecordedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("SaveOutcome replace: %v", err)
	}
	history, err := repo.SessionOutcomes(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionOutcomes: %v", err)
	}
	if len(history) != 2 || history[0].TrialIndex != 0 || !history[1].BothReachedSameGoal {
		t.Fatalf("history = %+v", history)
	}
	recent, err := repo.RecentOutcomes(ctx, 1)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome.TrialIndex != 1 {
		t.Fatalf("recent = %+v, want trial 1", recent)
	}

	inj := InjectionRecord{SessionID: "s1", TrialIndex: 1, ConflictedGoal: 0, Condition: CondEqual, Goal: Goal{Index: 2, Pos: Position{3, 4}}, At: now}
	if err := repo.SaveInjection(ctx, inj); err != nil {
		t.Fatalf("SaveInjection: %v", err)
	}
	fail := InjectionRecord{SessionID: "s1", TrialIndex: 0, Condition: CondCloserToFirst, Goal: Goal{Index: noIntent}, Failed: true, Reason: "exhausted", At: now}
	if err := repo.SaveInjection(ctx, fail); err != nil {
		t.Fatalf("SaveInjection failure: %v", err)
	}
	injections, err := repo.Injections(ctx, "s1")
	if err != nil {
		t.Fatalf("Injections: %v", err)
	}
	if len(injections) != 2 || injections[0].Goal.Pos != (Position{3, 4}) || !injections[1].Failed {
		t.Fatalf("injections = %+v", injections)
	}
}

func TestSQLRecorderFlushesOnShutdown(t *testing.T) {
	repo := openTestRepository(t)
	rec := newSQLRecorder(repo, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	now := time.Now().UTC()
	rec.SessionChanged(SessionRecord{ID: "s2", Kind: Kind2P2G, State: StateFull, CreatedAt: now, UpdatedAt: now})
	rec.TrialCompleted("s2", TrialOutcome{TrialIndex: 0, BothReachedSameGoal: true})
	rec.GoalInjection(InjectionRecord{SessionID: "s2", Goal: Goal{Index: noIntent}, Reason: "condition none", At: now})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	bg := context.Background()
	if _, err := repo.LoadSession(bg, "s2"); err != nil {
		t.Fatalf("session not recorded: %v", err)
	}
	history, err := repo.SessionOutcomes(bg, "s2")
	if err != nil || len(history) != 1 {
		t.Fatalf("outcomes = %+v, %v", history, err)
	}
	if got := rec.written.Load(); got != 3 {
		t.Fatalf("written = %d, want 3", got)
	}
}

func TestSQLRecorderDropsWhenFull(t *testing.T) {
	repo := openTestRepository(t)
	rec := newSQLRecorder(repo, 1)
	rec.TrialCompleted("s3", TrialOutcome{})
	rec.TrialCompleted("s3", TrialOutcome{TrialIndex: 1})
	if got := rec.dropped.Load(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}
