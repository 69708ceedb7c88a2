package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// MaxSessionDuration caps room-based sessions; direct transports are uncapped.
	MaxSessionDuration time.Duration
	// GoodbyeGrace is the pause after the closing message before teardown.
	GoodbyeGrace             time.Duration
	SessionInactivityTimeout time.Duration
	GoodbyeText              string
	GreetingPrompt           string

	RoomServiceURL string
	RoomAPIKey     string
	RoomAPISecret  string

	AgentAdapterMode string
	AgentHTTPURL     string

	DatabaseURL        string
	MemoryContextLimit int

	AudioInSampleRate       int
	AudioOutSampleRate      int
	TelephonySampleRate     int
	AllowInterruptions      bool
	EnableMetrics           bool
	EnableUsageMetrics      bool
	FirstChunkLatencyBudget time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:           false,
		GoodbyeText:              envOrDefault("APP_GOODBYE_TEXT", "It was lovely talking with you. Goodbye for now."),
		GreetingPrompt:           envOrDefault("APP_GREETING_PROMPT", "Say hello and introduce yourself."),
		RoomServiceURL:           envTrimmed("ROOM_SERVICE_URL"),
		RoomAPIKey:               envTrimmed("ROOM_API_KEY"),
		RoomAPISecret:            envTrimmed("ROOM_API_SECRET"),
		AgentAdapterMode:         envOrDefault("AGENT_ADAPTER_MODE", "auto"),
		AgentHTTPURL:             envTrimmed("AGENT_HTTP_URL"),
		DatabaseURL:              envTrimmed("DATABASE_URL"),
		MemoryContextLimit:       8,
		AudioInSampleRate:        16000,
		AudioOutSampleRate:       16000,
		TelephonySampleRate:      8000,
		AllowInterruptions:       true,
		EnableMetrics:            true,
		EnableUsageMetrics:       true,
		ShutdownTimeout:          15 * time.Second,
		MaxSessionDuration:       5 * time.Minute,
		GoodbyeGrace:             3 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		FirstChunkLatencyBudget:  700 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSessionDuration, err = durationFromEnv("APP_MAX_SESSION_DURATION", cfg.MaxSessionDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.GoodbyeGrace, err = durationFromEnv("APP_GOODBYE_GRACE", cfg.GoodbyeGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstChunkLatencyBudget, err = durationFromEnv("APP_FIRST_CHUNK_LATENCY_BUDGET", cfg.FirstChunkLatencyBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryContextLimit, err = intFromEnv("MEMORY_CONTEXT_LIMIT", cfg.MemoryContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioInSampleRate, err = intFromEnv("APP_AUDIO_IN_SAMPLE_RATE", cfg.AudioInSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioOutSampleRate, err = intFromEnv("APP_AUDIO_OUT_SAMPLE_RATE", cfg.AudioOutSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.TelephonySampleRate, err = intFromEnv("APP_TELEPHONY_SAMPLE_RATE", cfg.TelephonySampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowInterruptions, err = boolFromEnv("APP_ALLOW_INTERRUPTIONS", cfg.AllowInterruptions)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableMetrics, err = boolFromEnv("APP_ENABLE_METRICS", cfg.EnableMetrics)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableUsageMetrics, err = boolFromEnv("APP_ENABLE_USAGE_METRICS", cfg.EnableUsageMetrics)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxSessionDuration < 10*time.Second {
		return Config{}, fmt.Errorf("APP_MAX_SESSION_DURATION must be at least 10s")
	}
	if cfg.GoodbyeGrace < 0 || cfg.GoodbyeGrace > 30*time.Second {
		return Config{}, fmt.Errorf("APP_GOODBYE_GRACE must be between 0s and 30s")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MemoryContextLimit <= 0 {
		return Config{}, fmt.Errorf("MEMORY_CONTEXT_LIMIT must be positive")
	}
	if cfg.AudioInSampleRate <= 0 || cfg.AudioOutSampleRate <= 0 || cfg.TelephonySampleRate <= 0 {
		return Config{}, fmt.Errorf("audio sample rates must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
