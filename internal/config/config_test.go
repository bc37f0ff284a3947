package config

import (
	"testing"
	"time"

	"casino/internal/crash"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{
			name:       "Environment variable exists",
			key:        "TEST_KEY_EXISTS",
			defaultVal: "default",
			envValue:   "custom_value",
			want:       "custom_value",
		},
		{
			name:       "Environment variable does not exist",
			key:        "TEST_KEY_NOT_EXISTS",
			defaultVal: "default_value",
			envValue:   "",
			want:       "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{name: "Valid integer", key: "TEST_INT_VALID", defaultVal: 0, envValue: "42", want: 42},
		{name: "Invalid integer", key: "TEST_INT_INVALID", defaultVal: 10, envValue: "not_a_number", want: 10},
		{name: "Empty value", key: "TEST_INT_EMPTY", defaultVal: 5, envValue: "", want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     float64
	}{
		{name: "Valid float", envValue: "0.02", want: 0.02},
		{name: "Integer", envValue: "7", want: 7},
		{name: "Invalid", envValue: "two", want: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_FLOAT", tt.envValue)

			if got := getEnvAsFloat("TEST_FLOAT", 1.5); got != tt.want {
				t.Errorf("getEnvAsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "Go duration", envValue: "250ms", want: 250 * time.Millisecond},
		{name: "Minutes", envValue: "2m", want: 2 * time.Minute},
		{name: "Bare milliseconds", envValue: "1500", want: 1500 * time.Millisecond},
		{name: "Invalid", envValue: "soon", want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)

			if got := getEnvAsDuration("TEST_DURATION", time.Second); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "CRASH_TICK_INTERVAL", "CRASH_CURVE_K", "CRASH_HISTORY_SIZE", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Crash.TickInterval != crash.TICK_INTERVAL {
		t.Errorf("TickInterval = %v, want %v", cfg.Crash.TickInterval, crash.TICK_INTERVAL)
	}
	if cfg.Crash.CurveK != crash.DEFAULT_CURVE_K {
		t.Errorf("CurveK = %v, want %v", cfg.Crash.CurveK, crash.DEFAULT_CURVE_K)
	}
	if cfg.Crash.HistorySize != crash.DEFAULT_HISTORY_SIZE {
		t.Errorf("HistorySize = %v, want %v", cfg.Crash.HistorySize, crash.DEFAULT_HISTORY_SIZE)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %v", cfg.RedisAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CRASH_TICK_INTERVAL", "50ms")
	t.Setenv("CRASH_BETTING_TIME", "8s")
	t.Setenv("CRASH_HOUSE_EDGE", "0.03")
	t.Setenv("CRASH_HISTORY_SIZE", "20")

	cfg := Load()

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Crash.TickInterval != 50*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Crash.TickInterval)
	}
	if cfg.Crash.BettingTime != 8*time.Second {
		t.Errorf("BettingTime = %v", cfg.Crash.BettingTime)
	}
	if cfg.Crash.HouseEdge != 0.03 {
		t.Errorf("HouseEdge = %v", cfg.Crash.HouseEdge)
	}
	if cfg.Crash.HistorySize != 20 {
		t.Errorf("HistorySize = %v", cfg.Crash.HistorySize)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBHost:     "db",
		DBPort:     "5433",
		DBDatabase: "crash",
		DBUsername: "user",
		DBPassword: "pass",
		DBSchema:   "public",
	}

	want := "postgres://user:pass@db:5433/crash?sslmode=disable&search_path=public"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL() = %v, want %v", got, want)
	}
}
