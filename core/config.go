package core

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the substrate reads at startup, loaded from
// AXIS_*-prefixed environment variables with documented defaults, in the
// same env-driven style used for service discovery, but scoped to the
// job-orchestration substrate.
type Config struct {
	DataDir string

	WorkerPoolSize       int
	QueuePollInterval    time.Duration
	GracefulShutdownWait time.Duration

	MaxStepAttempts    int
	MaxRevisionCount   int
	MaxReplanCount     int
	DefaultMaxAttempts int

	MaxMessageSizeBytes       int
	MessageWarningThreshold   int

	ApprovalNonceTTL             time.Duration
	StandingRuleSuggestionCount  int

	DefaultJobTimeout        time.Duration
	DefaultPlanningTimeout   time.Duration
	DefaultValidationTimeout time.Duration
	DefaultStepTimeout       time.Duration

	MemoryRSSPausePercent int
	DiskUsagePausePercent int

	RetentionConversationDays int
	RetentionEpisodicDays     int
	RetentionExecutionLogDays int

	BackupDailyCount   int
	BackupWeeklyCount  int
	BackupMonthlyCount int

	LogFormat string
	LogLevel  string
}

// LoadConfig reads AXIS_* environment variables, falling back to defaults
// for anything unset. It never returns an error: every field has a usable
// zero-risk default so local-first operation always has something to run
// with.
func LoadConfig() *Config {
	return &Config{
		DataDir: getEnvString("AXIS_DATA_DIR", "./data"),

		WorkerPoolSize:       getEnvInt("AXIS_WORKER_POOL_SIZE", 4),
		QueuePollInterval:    getEnvDuration("AXIS_QUEUE_POLL_INTERVAL_MS", 250*time.Millisecond),
		GracefulShutdownWait: getEnvDuration("AXIS_GRACEFUL_SHUTDOWN_TIMEOUT_MS", 10*time.Second),

		MaxStepAttempts:    getEnvInt("AXIS_MAX_STEP_ATTEMPTS", 3),
		MaxRevisionCount:   getEnvInt("AXIS_MAX_REVISION_COUNT", 3),
		MaxReplanCount:     getEnvInt("AXIS_MAX_REPLAN_COUNT", 2),
		DefaultMaxAttempts: getEnvInt("AXIS_DEFAULT_MAX_ATTEMPTS", 3),

		MaxMessageSizeBytes:     getEnvInt("AXIS_MAX_MESSAGE_SIZE_BYTES", 1<<20),
		MessageWarningThreshold: getEnvInt("AXIS_MESSAGE_WARNING_THRESHOLD_BYTES", 256<<10),

		ApprovalNonceTTL:            time.Duration(getEnvInt("AXIS_APPROVAL_NONCE_TTL_HOURS", 24)) * time.Hour,
		StandingRuleSuggestionCount: getEnvInt("AXIS_STANDING_RULE_SUGGESTION_COUNT", 3),

		DefaultJobTimeout:        getEnvDuration("AXIS_DEFAULT_JOB_TIMEOUT_MS", 5*time.Minute),
		DefaultPlanningTimeout:   getEnvDuration("AXIS_DEFAULT_PLANNING_TIMEOUT_MS", 30*time.Second),
		DefaultValidationTimeout: getEnvDuration("AXIS_DEFAULT_VALIDATION_TIMEOUT_MS", 5*time.Second),
		DefaultStepTimeout:       getEnvDuration("AXIS_DEFAULT_STEP_TIMEOUT_MS", time.Minute),

		MemoryRSSPausePercent: getEnvInt("AXIS_MEMORY_RSS_PAUSE_PERCENT", 90),
		DiskUsagePausePercent: getEnvInt("AXIS_DISK_USAGE_PAUSE_PERCENT", 95),

		RetentionConversationDays: getEnvInt("AXIS_RETENTION_CONVERSATION_DAYS", 30),
		RetentionEpisodicDays:     getEnvInt("AXIS_RETENTION_EPISODIC_DAYS", 90),
		RetentionExecutionLogDays: getEnvInt("AXIS_RETENTION_EXECUTION_LOG_DAYS", 30),

		BackupDailyCount:   getEnvInt("AXIS_BACKUP_DAILY_COUNT", 7),
		BackupWeeklyCount:  getEnvInt("AXIS_BACKUP_WEEKLY_COUNT", 4),
		BackupMonthlyCount: getEnvInt("AXIS_BACKUP_MONTHLY_COUNT", 12),

		LogFormat: detectFormat(os.Getenv("AXIS_LOG_FORMAT")),
		LogLevel:  getEnvString("AXIS_LOG_LEVEL", "info"),
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
