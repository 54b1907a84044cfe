package config

import (
	"fmt"
	"os"
	"strconv"
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
	Notification NotificationConfig
	Payment      PaymentConfig
	Storage      StorageConfig
	RateLimit    RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitBytes        int
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

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// PaymentConfig configures the payment gateway integration.
type PaymentConfig struct {
	KeyID              string
	KeySecret          string
	Currency           string
	GatewayTimeout     time.Duration
	BreakerMaxFailures uint32
	BreakerOpenFor     time.Duration
}

// StorageConfig configures the attachment blob store.
type StorageConfig struct {
	UploadDir        string
	MaxFileSizeBytes int64
	MaxFilesPerBatch int
}

// RateLimitConfig configures per-client sliding windows.
type RateLimitConfig struct {
	Backend          string
	Window           time.Duration
	TicketCreateMax  int
	TicketRespondMax int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "membership-backend"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitBytes:        getEnvAsInt("HTTP_BODY_LIMIT_BYTES", 30*1024*1024),
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
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Payment: PaymentConfig{
			KeyID:              os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:          os.Getenv("RAZORPAY_KEY_SECRET"),
			Currency:           getEnv("PAYMENT_CURRENCY", "INR"),
			GatewayTimeout:     getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
			BreakerMaxFailures: uint32(getEnvAsInt("PAYMENT_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenFor:     getEnvAsDuration("PAYMENT_BREAKER_OPEN_FOR", 30*time.Second),
		},
		Storage: StorageConfig{
			UploadDir:        getEnv("STORAGE_UPLOAD_DIR", "uploads"),
			MaxFileSizeBytes: int64(getEnvAsInt("STORAGE_MAX_FILE_SIZE_BYTES", 5*1024*1024)),
			MaxFilesPerBatch: getEnvAsInt("STORAGE_MAX_FILES_PER_BATCH", 5),
		},
		RateLimit: RateLimitConfig{
			Backend:          getEnv("RATE_LIMIT_BACKEND", "redis"),
			Window:           getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			TicketCreateMax:  getEnvAsInt("RATE_LIMIT_TICKET_CREATE_MAX", 5),
			TicketRespondMax: getEnvAsInt("RATE_LIMIT_TICKET_RESPOND_MAX", 20),
		},
	}

	if cfg.Payment.KeySecret == "" && cfg.App.Env == "production" {
		return nil, fmt.Errorf("RAZORPAY_KEY_SECRET is required in production")
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
