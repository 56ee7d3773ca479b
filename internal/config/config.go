package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                       string
	AllowedOrigin              string
	StoreBackend               string
	DatabaseURL                string
	SQLitePath                 string
	MigrateOnStart             bool
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
	ReceivablesCacheTTLSeconds int
	AuthSecret                 string
	AccessTokenTTLMinutes      int
	RecoveryPassphrase         string
	SeedAdminPassword          string
	StoreTimezone              string
	StoreName                  string
	LogLevel                   string
	LogFormat                  string
	SnowflakeNode              int64
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("RECEIVABLES_CACHE_TTL_SECONDS", "60"))
	if err != nil || ttl < 1 {
		ttl = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	node, err := strconv.ParseInt(getEnv("SNOWFLAKE_NODE", "1"), 10, 64)
	if err != nil || node < 0 {
		node = 1
	}
	migrateOnStart, err := strconv.ParseBool(getEnv("MIGRATE_ON_START", "true"))
	if err != nil {
		migrateOnStart = true
	}

	cfg := Config{
		Port:                       getEnv("PORT", "8080"),
		AllowedOrigin:              getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		StoreBackend:               strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		SQLitePath:                 getEnv("SQLITE_PATH", "paivamoda.db"),
		MigrateOnStart:             migrateOnStart,
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                    redisDB,
		ReceivablesCacheTTLSeconds: ttl,
		AuthSecret:                 strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:      tokenTTL,
		RecoveryPassphrase:         strings.TrimSpace(os.Getenv("RECOVERY_PASSPHRASE")),
		SeedAdminPassword:          os.Getenv("SEED_ADMIN_PASSWORD"),
		StoreTimezone:              getEnv("STORE_TIMEZONE", "America/Manaus"),
		StoreName:                  getEnv("STORE_NAME", "Paiva Moda"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "json"),
		SnowflakeNode:              node,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves STORE_TIMEZONE. Manaus has no DST, so a fixed -04:00 zone
// stands in when the tz database is missing from the host.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.StoreTimezone)
	if err != nil {
		return time.FixedZone("AMT", -4*60*60)
	}
	return loc
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
