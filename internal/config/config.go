package config // package config loads application configuration from environment variables

import (
	"encoding/base64"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Sub-configs for Redis-backed middleware are
// loaded separately by LoadRateLimitConfig and LoadCacheConfig.
type Config struct {
	Env         string // application environment (e.g. "dev", "prod")
	Port        string // HTTP port to listen on
	LogLevel    string // zerolog level name
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	DBPool      DBPoolConfig
	AutoMigrate bool   // apply embedded migrations at startup
	JWTSecret   string // secret used to verify organizer/service JWTs
	RabbitURL   string // broker URL; empty disables the queue and issues credentials inline

	Reservation ReservationConfig
	Credential  CredentialConfig
}

// DBPoolConfig sizes the MySQL connection pool.  Zero values fall back to
// the database package defaults.
type DBPoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ReservationConfig bounds hold lifetimes and the sweeper.
type ReservationConfig struct {
	DefaultTTL    time.Duration // hold lifetime when the caller does not ask for one
	MaxTTL        time.Duration // upper bound for a hold's total lifetime, extensions included
	MaxQuantity   int           // tickets per hold
	SweepInterval time.Duration // period of the background sweeper; 0 disables it
	SweepBatch    int           // expired holds released per sweep pass
	SweepLockTTL  time.Duration // lease held in Redis while one replica sweeps
}

// CredentialConfig configures credential minting.
type CredentialConfig struct {
	MasterKey []byte        // 32-byte root key, base64 in CREDENTIAL_MASTER_KEY
	Grace     time.Duration // validity of ticket credentials after the event ends
	ImageSize int           // QR edge in pixels
}

// Load reads configuration values from the environment, after merging an
// optional .env file.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // a missing .env is fine; real deployments use the environment

	return Config{
		Env:         envStr("APP_ENV", "dev"),
		Port:        envStr("APP_PORT", "8080"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DBUser:      must("DB_USER"),
		DBPass:      os.Getenv("DB_PASS"),
		DBHost:      must("DB_HOST"),
		DBPort:      must("DB_PORT"),
		DBName:      must("DB_NAME"),
		DBPool: DBPoolConfig{
			MaxOpen:     envInt("DB_MAX_OPEN_CONNS", 0),
			MaxIdle:     envInt("DB_MAX_IDLE_CONNS", 0),
			MaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 0),
			MaxIdleTime: envDur("DB_CONN_MAX_IDLE_TIME", 0),
		},
		AutoMigrate: envBool("DB_AUTO_MIGRATE", true),
		JWTSecret:   must("JWT_SECRET"),
		RabbitURL:   rabbitURL(),
		Reservation: LoadReservationConfig(),
		Credential: CredentialConfig{
			MasterKey: mustKey("CREDENTIAL_MASTER_KEY"),
			Grace:     envDur("CREDENTIAL_GRACE", 12*time.Hour),
			ImageSize: envInt("CREDENTIAL_IMAGE_SIZE", 320),
		},
	}
}

// LoadReservationConfig reads the hold and sweeper settings with defaults.
func LoadReservationConfig() ReservationConfig {
	rc := ReservationConfig{
		DefaultTTL:    envDur("HOLD_TTL_DEFAULT", 10*time.Minute),
		MaxTTL:        envDur("HOLD_TTL_MAX", 30*time.Minute),
		MaxQuantity:   envInt("HOLD_MAX_QUANTITY", 10),
		SweepInterval: envDur("SWEEP_INTERVAL", 30*time.Second),
		SweepBatch:    envInt("SWEEP_BATCH", 500),
		SweepLockTTL:  envDur("SWEEP_LOCK_TTL", 25*time.Second),
	}
	if rc.DefaultTTL <= 0 {
		rc.DefaultTTL = 10 * time.Minute
	}
	if rc.MaxTTL < rc.DefaultTTL {
		rc.MaxTTL = rc.DefaultTTL
	}
	if rc.MaxQuantity < 1 {
		rc.MaxQuantity = 1
	}
	if rc.SweepBatch < 1 {
		rc.SweepBatch = 500
	}
	return rc
}

// rabbitURL honours both RABBITMQ_URL and the older AMQP_URL.
func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}

// mustKey decodes a base64 (std or url alphabet) 32-byte key.
func mustKey(key string) []byte {
	s := must(key)
	b, err := decodeKey(s)
	if err != nil {
		log.Fatal().Err(err).Str("key", key).Msg("invalid key")
	}
	return b
}

var errInvalidKey = errors.New("expected base64 encoding of 32 bytes")

func decodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	return nil, errInvalidKey
}
