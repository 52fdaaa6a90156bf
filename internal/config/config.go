package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service. It is built once
// at startup and treated as immutable afterwards; components receive the
// sections they need instead of reading ambient process state.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Chain     ChainConfig
	Waitlist  WaitlistConfig
	Reconcile ReconcileConfig
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
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// ChainConfig identifies the external ledger and the platform custodian.
// CustodianPrivateKey signs mints and gas top-ups; EncryptionKeyHex is the
// 32-byte AES key protecting per-user signing credentials at rest.
type ChainConfig struct {
	RPCURL                string
	ContractAddress       string
	CustodianPrivateKey   string
	EncryptionKeyHex      string
	ConfirmTimeoutSeconds int
	SubmitRetries         int
	GasTopUpWei           string
	GasReserveWei         string
}

// WaitlistConfig holds display-level waitlist policy.
type WaitlistConfig struct {
	// AlmostSoldOutRatio marks an event "almost sold out" when remaining
	// availability drops to this fraction of capacity.
	AlmostSoldOutRatio float64
}

// ReconcileConfig drives the background reconciliation worker.
type ReconcileConfig struct {
	IntervalSeconds int
	BatchSize       int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	ratio, err := strconv.ParseFloat(getEnv("WAITLIST_ALMOST_SOLD_OUT_RATIO", "0.10"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("invalid WAITLIST_ALMOST_SOLD_OUT_RATIO: %q", getEnv("WAITLIST_ALMOST_SOLD_OUT_RATIO", "0.10"))
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticketguard-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 120),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
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
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 10),
		},
		Chain: ChainConfig{
			RPCURL:                os.Getenv("RPC_URL"),
			ContractAddress:       os.Getenv("CONTRACT_ADDRESS"),
			CustodianPrivateKey:   os.Getenv("ADMIN_PRIVATE_KEY"),
			EncryptionKeyHex:      os.Getenv("ENCRYPTION_KEY"),
			ConfirmTimeoutSeconds: getEnvAsInt("CHAIN_CONFIRM_TIMEOUT_SECONDS", 90),
			SubmitRetries:         getEnvAsInt("CHAIN_SUBMIT_RETRIES", 3),
			GasTopUpWei:           getEnv("CHAIN_GAS_TOPUP_WEI", "10000000000000000"), // 0.01 native unit
			GasReserveWei:         getEnv("CHAIN_GAS_RESERVE_WEI", "10000000000000000"),
		},
		Waitlist: WaitlistConfig{
			AlmostSoldOutRatio: ratio,
		},
		Reconcile: ReconcileConfig{
			IntervalSeconds: getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 60),
			BatchSize:       getEnvAsInt("RECONCILE_BATCH_SIZE", 20),
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

// ConfirmTimeout returns how long a mutating ledger call waits for confirmation.
func (c ChainConfig) ConfirmTimeout() time.Duration {
	if c.ConfirmTimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// Interval returns the reconciliation loop period.
func (r ReconcileConfig) Interval() time.Duration {
	if r.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.IntervalSeconds) * time.Second
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
