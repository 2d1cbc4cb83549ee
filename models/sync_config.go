package models

import (
	"os"
	"strconv"
	"time"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Configuration
//
// Loads sync settings from environment variables. When GOTASKS_SYNC_ENABLED
// is true, the engine runs a background goroutine that drains the local
// mutation queue against the remote service.
// ============================================================================

// SyncConfig holds the configuration for the sync engine.
// All values are loaded from environment variables to keep
// deployment configuration external to the binary.
type SyncConfig struct {
	Enabled          bool          // Whether sync is active (GOTASKS_SYNC_ENABLED)
	RemoteURL        string        // Base URL of the remote service (GOTASKS_REMOTE_URL)
	Username         string        // Authentication username (GOTASKS_SYNC_USERNAME)
	Password         string        // Authentication password (GOTASKS_SYNC_PASSWORD)
	Interval         time.Duration // Timer interval between passes (GOTASKS_SYNC_INTERVAL)
	BackoffBase      time.Duration // First retry delay (GOTASKS_BACKOFF_BASE)
	BackoffCap       time.Duration // Upper bound on retry delay (GOTASKS_BACKOFF_CAP)
	RetryCeiling     int           // Retries before dead-lettering (GOTASKS_RETRY_CEILING)
	BatchSize        int           // Records per pass (GOTASKS_BATCH_SIZE)
	ReducedBatchSize int           // Records per pass under device pressure (GOTASKS_REDUCED_BATCH_SIZE)
	ItemTimeout      time.Duration // Per-record remote call budget (GOTASKS_ITEM_TIMEOUT)
	SettleDelay      time.Duration // Pause between records when throttled (GOTASKS_SETTLE_DELAY)
	DBPath           string        // DuckDB file path (GOTASKS_DB_PATH)
}

const (
	defaultSyncInterval = 5 * time.Minute
	defaultRetryCeiling = 8
	defaultItemTimeout  = 30 * time.Second
	defaultSettleDelay  = 2 * time.Second
)

// LoadSyncConfig reads sync configuration from environment variables.
// Returns a config even when sync is disabled so callers can inspect
// the state without nil checks.
func LoadSyncConfig() (*SyncConfig, error) {
	cfg := &SyncConfig{
		Interval:         defaultSyncInterval,
		BackoffBase:      defaultBackoffBase,
		BackoffCap:       defaultBackoffCap,
		RetryCeiling:     defaultRetryCeiling,
		BatchSize:        defaultBatchSize,
		ReducedBatchSize: defaultReducedBatchSize,
		ItemTimeout:      defaultItemTimeout,
		SettleDelay:      defaultSettleDelay,
		DBPath:           defaultDBPath,
	}

	// Parse enabled flag, defaulting to false so sync stays opt-in
	if enabledStr := os.Getenv("GOTASKS_SYNC_ENABLED"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return nil, serr.Wrap(err, "invalid GOTASKS_SYNC_ENABLED value, expected true/false")
		}
		cfg.Enabled = enabled
	}

	cfg.RemoteURL = os.Getenv("GOTASKS_REMOTE_URL")
	cfg.Username = os.Getenv("GOTASKS_SYNC_USERNAME")
	cfg.Password = os.Getenv("GOTASKS_SYNC_PASSWORD")
	if path := os.Getenv("GOTASKS_DB_PATH"); path != "" {
		cfg.DBPath = path
	}

	err := firstErr(
		durationEnv("GOTASKS_SYNC_INTERVAL", &cfg.Interval),
		durationEnv("GOTASKS_BACKOFF_BASE", &cfg.BackoffBase),
		durationEnv("GOTASKS_BACKOFF_CAP", &cfg.BackoffCap),
		durationEnv("GOTASKS_ITEM_TIMEOUT", &cfg.ItemTimeout),
		durationEnv("GOTASKS_SETTLE_DELAY", &cfg.SettleDelay),
		intEnv("GOTASKS_RETRY_CEILING", &cfg.RetryCeiling),
		intEnv("GOTASKS_BATCH_SIZE", &cfg.BatchSize),
		intEnv("GOTASKS_REDUCED_BATCH_SIZE", &cfg.ReducedBatchSize),
	)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required fields are coherent, and that
// credentials are present when sync is enabled. Called at startup to fail
// fast on misconfiguration rather than discovering it mid-pass.
func (c *SyncConfig) Validate() error {
	if c.RetryCeiling < 1 {
		return serr.New("GOTASKS_RETRY_CEILING must be at least 1")
	}
	if c.BatchSize < 1 {
		return serr.New("GOTASKS_BATCH_SIZE must be at least 1")
	}
	if c.ReducedBatchSize < 1 || c.ReducedBatchSize > c.BatchSize {
		return serr.New("GOTASKS_REDUCED_BATCH_SIZE must be between 1 and GOTASKS_BATCH_SIZE")
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return serr.New("GOTASKS_BACKOFF_CAP must be at least GOTASKS_BACKOFF_BASE")
	}
	if c.ItemTimeout < time.Second {
		return serr.New("GOTASKS_ITEM_TIMEOUT must be at least 1s")
	}

	if !c.Enabled {
		return nil // Credentials are only required when sync is active
	}

	if c.RemoteURL == "" {
		return serr.New("GOTASKS_REMOTE_URL is required when sync is enabled")
	}
	if c.Username == "" {
		return serr.New("GOTASKS_SYNC_USERNAME is required when sync is enabled")
	}
	if c.Password == "" {
		return serr.New("GOTASKS_SYNC_PASSWORD is required when sync is enabled")
	}
	if c.Interval < 10*time.Second {
		return serr.New("GOTASKS_SYNC_INTERVAL must be at least 10s to avoid hammering the remote")
	}

	return nil
}

// BackoffPolicy returns the retry policy the config describes.
func (c *SyncConfig) BackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: c.BackoffBase, Cap: c.BackoffCap}
}

func durationEnv(key string, dest *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return serr.Wrap(err, "invalid "+key+" value, expected duration like '5m' or '30s'")
	}
	*dest = d
	return nil
}

func intEnv(key string, dest *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return serr.Wrap(err, "invalid "+key+" value, expected an integer")
	}
	*dest = n
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
