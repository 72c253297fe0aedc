package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Host      string `env:"HOST" default:"127.0.0.1"`
	Port      string `env:"PORT" default:"8080"`
	Workers   int    `env:"WORKERS" default:"2"` // GOMAXPROCS; 0 keeps the runtime default
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" default:"10s"`
	QueueCapacity int           `env:"QUEUE_CAPACITY" default:"10"`
	AckMessage    string        `env:"ACK_MESSAGE" default:"connected"`
	SendTimeout   time.Duration `env:"SEND_TIMEOUT" default:"1s"`

	CPUChannel  string        `env:"CPU_CHANNEL" default:"cpu"`
	CPUInterval time.Duration `env:"CPU_INTERVAL" default:"2s"`

	MaxStreamConnections int     `env:"MAX_STREAM_CONNECTIONS" default:"10000"`
	MaxStreamsPerIP      int     `env:"MAX_STREAMS_PER_IP" default:"100"`
	StreamConnectRate    float64 `env:"STREAM_CONNECT_RATE" default:"10"`
	StreamConnectBurst   int     `env:"STREAM_CONNECT_BURST" default:"20"`
	PublishRateLimit     float64 `env:"PUBLISH_RATE_LIMIT" default:"50"`
	PublishRateBurst     int     `env:"PUBLISH_RATE_BURST" default:"100"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr is the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the settings; it is exported so command-line overrides can be re-checked.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"PORT", c.Port},
		{"ACK_MESSAGE", c.AckMessage},
		{"CPU_CHANNEL", c.CPUChannel},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.Workers < 0 {
		return errors.New("WORKERS must not be negative")
	}
	if c.QueueCapacity < 1 {
		return errors.New("QUEUE_CAPACITY must be at least 1")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"SEND_TIMEOUT", c.SendTimeout},
		{"CPU_INTERVAL", c.CPUInterval},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.MaxStreamConnections < 1 || c.MaxStreamsPerIP < 1 || c.StreamConnectBurst < 1 || c.PublishRateBurst < 1 {
		return errors.New("connection and rate limits must be at least 1")
	}
	if c.StreamConnectRate <= 0 || c.PublishRateLimit <= 0 {
		return errors.New("STREAM_CONNECT_RATE and PUBLISH_RATE_LIMIT must be positive")
	}

	return nil
}
