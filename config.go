package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string
	AdminToken string
	Debug      bool

	GridSize         int
	MaxMovesPerTrial int
	IntentWindow     int

	ReadyTimeout        time.Duration
	TrialTimeout        time.Duration
	ReconnectGrace      time.Duration
	SyncInterval        time.Duration
	AgentDelay          time.Duration
	InjectRetryCooldown time.Duration

	Stopping StoppingRule
	Inject   InjectParams

	DBDialect      DBDialect
	SQLitePath     string
	PostgresDSN    string
	RecorderBuffer int
}

func defaultConfig() Config {
	return Config{
		Addr:                ":4000",
		AdminToken:          "DEV",
		GridSize:            15,
		MaxMovesPerTrial:    50,
		IntentWindow:        1,
		ReadyTimeout:        60 * time.Second,
		TrialTimeout:        3 * time.Minute,
		ReconnectGrace:      30 * time.Second,
		SyncInterval:        time.Second,
		AgentDelay:          500 * time.Millisecond,
		InjectRetryCooldown: time.Second,
		Stopping: StoppingRule{
			Enabled:                      true,
			MinTrialsBeforeCheck:         2,
			ConsecutiveSuccessesRequired: 2,
			MaxTrials:                    30,
		},
		Inject: InjectParams{
			MinDistance:    1,
			MaxDistance:    12,
			CloserBy:       2,
			EqualTolerance: 1,
			SearchBudget:   15 * 15,
		},
		DBDialect:      dialectSQLite,
		SQLitePath:     "tmp/grid_rendezvous.sqlite",
		RecorderBuffer: 256,
	}
}

// loadConfig reads the environment, seeded from .env when one exists.
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaultConfig()
	var errs []error
	envStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	envDur := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	envBool := func(key string, dst *bool) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	envStr("ADMIN_TOKEN", &cfg.AdminToken)
	envBool("DEBUG", &cfg.Debug)

	budgetSet := os.Getenv("INJECT_SEARCH_BUDGET") != ""
	envInt("GRID_SIZE", &cfg.GridSize)
	envInt("MAX_MOVES_PER_TRIAL", &cfg.MaxMovesPerTrial)
	envInt("INTENT_WINDOW", &cfg.IntentWindow)
	envDur("READY_TIMEOUT", &cfg.ReadyTimeout)
	envDur("TRIAL_TIMEOUT", &cfg.TrialTimeout)
	envDur("RECONNECT_GRACE", &cfg.ReconnectGrace)
	envDur("SYNC_INTERVAL", &cfg.SyncInterval)
	envDur("AGENT_DELAY", &cfg.AgentDelay)
	envDur("INJECT_RETRY_COOLDOWN", &cfg.InjectRetryCooldown)

	envBool("STOP_ENABLED", &cfg.Stopping.Enabled)
	envInt("STOP_MIN_TRIALS", &cfg.Stopping.MinTrialsBeforeCheck)
	envInt("STOP_CONSECUTIVE", &cfg.Stopping.ConsecutiveSuccessesRequired)
	envInt("STOP_MAX_TRIALS", &cfg.Stopping.MaxTrials)

	envInt("INJECT_MIN_DISTANCE", &cfg.Inject.MinDistance)
	envInt("INJECT_MAX_DISTANCE", &cfg.Inject.MaxDistance)
	envInt("INJECT_CLOSER_BY", &cfg.Inject.CloserBy)
	envInt("INJECT_EQUAL_TOLERANCE", &cfg.Inject.EqualTolerance)
	envInt("INJECT_SEARCH_BUDGET", &cfg.Inject.SearchBudget)
	if !budgetSet {
		cfg.Inject.SearchBudget = cfg.GridSize * cfg.GridSize
	}

	dialect := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DIALECT")))
	if dialect != "" {
		cfg.DBDialect = DBDialect(dialect)
	}
	envStr("DB_SQLITE_PATH", &cfg.SQLitePath)
	envStr("DATABASE_URL", &cfg.PostgresDSN)
	envStr("DB_POSTGRES_DSN", &cfg.PostgresDSN)
	envInt("RECORDER_BUFFER", &cfg.RecorderBuffer)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	log.Printf("config: addr=%s grid=%d maxMoves=%d stopping=%+v db=%s", cfg.Addr, cfg.GridSize, cfg.MaxMovesPerTrial, cfg.Stopping, cfg.DBDialect)
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.GridSize < 2:
		return fmt.Errorf("GRID_SIZE must be at least 2, got %d", c.GridSize)
	case c.MaxMovesPerTrial < 1:
		return fmt.Errorf("MAX_MOVES_PER_TRIAL must be positive, got %d", c.MaxMovesPerTrial)
	case c.IntentWindow < 1:
		return fmt.Errorf("INTENT_WINDOW must be positive, got %d", c.IntentWindow)
	case c.Stopping.MaxTrials < 1:
		return fmt.Errorf("STOP_MAX_TRIALS must be positive, got %d", c.Stopping.MaxTrials)
	case c.Stopping.MinTrialsBeforeCheck > c.Stopping.MaxTrials:
		return fmt.Errorf("STOP_MIN_TRIALS (%d) exceeds STOP_MAX_TRIALS (%d)", c.Stopping.MinTrialsBeforeCheck, c.Stopping.MaxTrials)
	case c.Stopping.ConsecutiveSuccessesRequired < 1:
		return fmt.Errorf("STOP_CONSECUTIVE must be positive, got %d", c.Stopping.ConsecutiveSuccessesRequired)
	case c.Inject.MinDistance < 0 || (c.Inject.MaxDistance > 0 && c.Inject.MaxDistance < c.Inject.MinDistance):
		return fmt.Errorf("injection distance band [%d,%d] is empty", c.Inject.MinDistance, c.Inject.MaxDistance)
	case c.ReadyTimeout <= 0 || c.TrialTimeout <= 0 || c.ReconnectGrace <= 0:
		return errors.New("READY_TIMEOUT, TRIAL_TIMEOUT and RECONNECT_GRACE must be positive")
	case c.AgentDelay <= 0:
		return fmt.Errorf("AGENT_DELAY must be positive, got %s", c.AgentDelay)
	case c.SyncInterval < 0:
		return fmt.Errorf("SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}
	switch c.DBDialect {
	case dialectSQLite, dialectNone:
	case dialectPostgres:
		if c.PostgresDSN == "" {
			return errors.New("DB_DIALECT=postgres requires DB_POSTGRES_DSN or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported DB_DIALECT %q", c.DBDialect)
	}
	return nil
}
