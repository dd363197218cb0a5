package reconcile

import (
	"os"
	"strconv"
	"time"
)

// Config carries the sweep tunables. Defaults keep a 40-record batch under
// the platform's per-invocation external-call ceiling.
type Config struct {
	BatchSize          int
	RecoveryBatchSize  int
	MaxRetries         int
	PeriodEndTolerance time.Duration
	PaceDelay          time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          40,
		RecoveryBatchSize:  50,
		MaxRetries:         5,
		PeriodEndTolerance: time.Hour,
		PaceDelay:          100 * time.Millisecond,
	}
}

func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("RECONCILE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("RECOVERY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecoveryBatchSize = n
		}
	}
	if v := os.Getenv("RECOVERY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("RECONCILE_PERIOD_TOLERANCE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PeriodEndTolerance = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("RECONCILE_PACE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PaceDelay = time.Duration(n) * time.Millisecond
		}
	}

	return cfg
}
