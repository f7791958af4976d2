package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Trigger      TriggerConfig
	Outbox       OutboxConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
	AdminRoleIDs    []int64
}

// WorkflowConfig tunes approver resolution and approval policy selection.
type WorkflowConfig struct {
	// FallbackRoleID is used by superior steps when the requester has no superior.
	FallbackRoleID     int64
	LegacyServiceTypes []string
}

// IsLegacy reports whether tickets of serviceType use the single-counter policy.
func (w WorkflowConfig) IsLegacy(serviceType string) bool {
	for _, t := range w.LegacyServiceTypes {
		if strings.EqualFold(t, serviceType) {
			return true
		}
	}
	return false
}

// TriggerConfig controls handler execution.
type TriggerConfig struct {
	HandlerTimeoutSeconds  int
	BindingCacheTTLSeconds int
	DocumentDir            string
	APIRatePerSecond       float64
	APIBurst               int
}

// HandlerTimeout bounds one handler invocation.
func (t TriggerConfig) HandlerTimeout() time.Duration {
	if t.HandlerTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.HandlerTimeoutSeconds) * time.Second
}

// BindingCacheTTL returns how long trigger bindings are cached.
func (t TriggerConfig) BindingCacheTTL() time.Duration {
	return time.Duration(t.BindingCacheTTLSeconds) * time.Second
}

// OutboxConfig controls the trigger relay.
type OutboxConfig struct {
	PollIntervalMS int
	BatchSize      int
	MaxAttempts    int
	LockTTLSeconds int
	SingleActive   bool
}

// PollInterval returns the relay tick.
func (o OutboxConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// LockTTL returns how long a claimed row stays invisible to other relays.
func (o OutboxConfig) LockTTL() time.Duration {
	return time.Duration(o.LockTTLSeconds) * time.Second
}

// NotificationConfig holds notification endpoints used by the email handler.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	fallbackRole, err := strconv.ParseInt(getEnv("WORKFLOW_FALLBACK_ROLE_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKFLOW_FALLBACK_ROLE_ID: %w", err)
	}

	adminRoles, err := parseIDList(getEnvAsList("AUTH_ADMIN_ROLE_IDS", nil))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_ADMIN_ROLE_IDS: %w", err)
	}

	apiRate, err := strconv.ParseFloat(getEnv("TRIGGER_API_RATE_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TRIGGER_API_RATE_PER_SECOND: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "approval-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
			AdminRoleIDs:    adminRoles,
		},
		Workflow: WorkflowConfig{
			FallbackRoleID:     fallbackRole,
			LegacyServiceTypes: getEnvAsList("WORKFLOW_LEGACY_SERVICE_TYPES", nil),
		},
		Trigger: TriggerConfig{
			HandlerTimeoutSeconds:  getEnvAsInt("TRIGGER_HANDLER_TIMEOUT_SECONDS", 15),
			BindingCacheTTLSeconds: getEnvAsInt("TRIGGER_BINDING_CACHE_TTL_SECONDS", 30),
			DocumentDir:            getEnv("TRIGGER_DOCUMENT_DIR", "var/documents"),
			APIRatePerSecond:       apiRate,
			APIBurst:               getEnvAsInt("TRIGGER_API_BURST", 5),
		},
		Outbox: OutboxConfig{
			PollIntervalMS: getEnvAsInt("OUTBOX_POLL_INTERVAL_MS", 1000),
			BatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:    getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
			LockTTLSeconds: getEnvAsInt("OUTBOX_LOCK_TTL_SECONDS", 60),
			SingleActive:   getEnvAsBool("OUTBOX_SINGLE_ACTIVE", false),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDList(parts []string) ([]int64, error) {
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
