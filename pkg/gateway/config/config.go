// Package config loads the relay gateway configuration from RELAY_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemInstruction is the tutor persona handed to the live model when
// RELAY_SYSTEM_INSTRUCTION is unset.
const DefaultSystemInstruction = "You are Vishwa, a warm and patient language tutor. " +
	"Greet the learner first, speak slowly and clearly, and keep replies short and conversational. " +
	"Gently correct mistakes and encourage the learner to keep talking."

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// MaxBodyBytes caps audio upload request bodies. Snapshot uploads carry
	// the whole recording so far, so this is generous.
	MaxBodyBytes int64

	// Event stream settings.
	HeartbeatInterval time.Duration
	SubscriberBuffer  int
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration

	// Session reclamation.
	SweepInterval   time.Duration
	IdleTimeout     time.Duration
	SubscriberGrace time.Duration

	// Upstream live connection.
	GeminiAPIKey      string
	GeminiModel       string
	GeminiVoice       string
	SystemInstruction string
	ConnectTimeout    time.Duration
	SendTimeout       time.Duration

	// Transcoding.
	FFmpegPath string

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("RELAY_ADDR", ":8080"),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envInt64Or("RELAY_MAX_BODY_BYTES", 50<<20), // 50 MiB
		HeartbeatInterval:   envDurationOr("RELAY_HEARTBEAT_INTERVAL", 15*time.Second),
		SubscriberBuffer:    envIntOr("RELAY_SUBSCRIBER_BUFFER", 256),
		WSPingInterval:      envDurationOr("RELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		SweepInterval:       envDurationOr("RELAY_SWEEP_INTERVAL", time.Minute),
		IdleTimeout:         envDurationOr("RELAY_IDLE_TIMEOUT", 5*time.Minute),
		SubscriberGrace:     envDurationOr("RELAY_SUBSCRIBER_GRACE", time.Minute),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("RELAY_GEMINI_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		GeminiVoice:         envOr("RELAY_GEMINI_VOICE", "Zephyr"),
		SystemInstruction:   envOr("RELAY_SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		ConnectTimeout:      envDurationOr("RELAY_CONNECT_TIMEOUT", 10*time.Second),
		SendTimeout:         envDurationOr("RELAY_SEND_TIMEOUT", 5*time.Second),
		FFmpegPath:          envOr("RELAY_FFMPEG_PATH", "ffmpeg"),
		ReadHeaderTimeout:   envDurationOr("RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("RELAY_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod: envDurationOr("RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("RELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_HEARTBEAT_INTERVAL must be > 0")
	}
	if cfg.SubscriberBuffer <= 0 {
		return Config{}, fmt.Errorf("RELAY_SUBSCRIBER_BUFFER must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_SWEEP_INTERVAL must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SubscriberGrace <= 0 {
		return Config{}, fmt.Errorf("RELAY_SUBSCRIBER_GRACE must be > 0")
	}
	if cfg.GeminiModel == "" {
		return Config{}, fmt.Errorf("RELAY_GEMINI_MODEL must not be empty")
	}
	if cfg.GeminiVoice == "" {
		return Config{}, fmt.Errorf("RELAY_GEMINI_VOICE must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.SendTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_SEND_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		return Config{}, fmt.Errorf("RELAY_FFMPEG_PATH must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("read timeouts must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
