// Package config reads the watcher's settings from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"fleetwatch/internal/session"
	"fleetwatch/internal/telemetry"
	"fleetwatch/internal/workers"
)

const (
	BusSTOMP = "stomp"
	BusNATS  = "nats"
)

type Config struct {
	APIBase string
	WSURL   string
	Bus     string

	NATSURL      string
	NATSCreds    string
	NATSNkeySeed string

	AuthToken     string
	AuthTokenFile string

	RedisURL string
	RedisDB  int

	ListenAddr      string
	APIKey          string
	DeviceID        string
	SlackWebhookURL string

	Session session.Config
}

func Load() (Config, error) {
	cfg := Config{
		APIBase:         strings.TrimRight(getEnv("API_BASE", "http://localhost:8080/api"), "/"),
		WSURL:           getEnv("WS_URL", "ws://localhost:8080/ws"),
		Bus:             strings.ToLower(getEnv("BUS", BusSTOMP)),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCreds:       os.Getenv("NATS_CREDS"),
		NATSNkeySeed:    os.Getenv("NATS_NKEY_SEED"),
		AuthToken:       os.Getenv("AUTH_TOKEN"),
		AuthTokenFile:   os.Getenv("AUTH_TOKEN_FILE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8090"),
		APIKey:          os.Getenv("WATCHER_API_KEY"),
		DeviceID:        strings.TrimSpace(os.Getenv("DEVICE_ID")),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		Session: session.Config{
			RetryDelay:         getEnvDuration("RECONNECT_DELAY", session.DefaultRetryDelay),
			DetailPollInterval: getEnvDuration("DETAIL_POLL_INTERVAL", workers.DefaultDetailPollInterval),
			RefreshGrace:       getEnvDuration("REFRESH_GRACE", session.DefaultRefreshGrace),
			Limits: telemetry.Limits{
				Metrics: getEnvInt("METRIC_HISTORY", telemetry.DefaultLimits().Metrics),
				Details: getEnvInt("DETAIL_HISTORY", telemetry.DefaultLimits().Details),
				Results: getEnvInt("RESULT_HISTORY", telemetry.DefaultLimits().Results),
			},
		},
	}

	if cfg.Bus != BusSTOMP && cfg.Bus != BusNATS {
		return Config{}, fmt.Errorf("unsupported BUS %q (want %s or %s)", cfg.Bus, BusSTOMP, BusNATS)
	}
	if cfg.AuthToken != "" && cfg.AuthTokenFile != "" {
		log.Println("WARN Both AUTH_TOKEN and AUTH_TOKEN_FILE are set; AUTH_TOKEN wins")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("WARN Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds ("5000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	log.Printf("WARN Invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
