package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"casino/internal/crash"
)

type Config struct {
	Port             int
	CORSAllowOrigins string
	RateLimitMax     int

	Crash crash.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBHost         string
	DBPort         string
	DBDatabase     string
	DBUsername     string
	DBPassword     string
	DBSchema       string
	MigrationsPath string

	ArchiveRetention time.Duration
	PruneInterval    time.Duration
	StatsInterval    time.Duration
}

// Load reads settings from the environment. A .env file in the working
// directory is picked up automatically.
func Load() *Config {
	return &Config{
		Port:             getEnvAsInt("PORT", 8080),
		CORSAllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
		RateLimitMax:     getEnvAsInt("RATE_LIMIT_MAX", 100),

		Crash: crash.Config{
			CurveK:       getEnvAsFloat("CRASH_CURVE_K", crash.DEFAULT_CURVE_K),
			TickInterval: getEnvAsDuration("CRASH_TICK_INTERVAL", crash.TICK_INTERVAL),
			BettingTime:  getEnvAsDuration("CRASH_BETTING_TIME", crash.BETTING_TIME),
			RoundDelay:   getEnvAsDuration("CRASH_ROUND_DELAY", crash.ROUND_DELAY),
			HistorySize:  getEnvAsInt("CRASH_HISTORY_SIZE", crash.DEFAULT_HISTORY_SIZE),
			HouseEdge:    getEnvAsFloat("CRASH_HOUSE_EDGE", crash.DEFAULT_HOUSE_EDGE),
			MinBet:       getEnvAsFloat("CRASH_MIN_BET", crash.MIN_BET),
			MaxBet:       getEnvAsFloat("CRASH_MAX_BET", crash.MAX_BET),
		},

		RedisAddr:     getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		DBHost:         getEnv("BLUEPRINT_DB_HOST", "localhost"),
		DBPort:         getEnv("BLUEPRINT_DB_PORT", "5432"),
		DBDatabase:     getEnv("BLUEPRINT_DB_DATABASE", "crashdb"),
		DBUsername:     getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		DBPassword:     getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		DBSchema:       getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		ArchiveRetention: getEnvAsDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		PruneInterval:    getEnvAsDuration("PRUNE_INTERVAL", time.Hour),
		StatsInterval:    getEnvAsDuration("STATS_INTERVAL", time.Minute),
	}
}

// DatabaseURL builds the pgx connection string for the archive.
func (c *Config) DatabaseURL() string {
	return "postgres://" + c.DBUsername + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort +
		"/" + c.DBDatabase + "?sslmode=disable&search_path=" + c.DBSchema
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

// getEnvAsDuration accepts Go duration strings ("250ms", "5s") or a bare
// number of milliseconds.
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
