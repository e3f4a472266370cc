package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port           int    `env:"PORT" envDefault:"8080"`
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	ReadReplicaURL string `env:"READ_REPLICA_URL" envDefault:""`
	RedisURL       string `env:"REDIS_URL" envDefault:""`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	SessionTTLSeconds int `env:"SESSION_TTL_SECONDS" envDefault:"86400"`
	FrameMaxBytes     int `env:"FRAME_MAX_BYTES" envDefault:"1048576"`
	FrameMaxSeqJump   int `env:"FRAME_MAX_SEQ_JUMP" envDefault:"1024"`

	EventRetentionDays       int `env:"EVENT_RETENTION_DAYS" envDefault:"30"`
	RetentionIntervalSeconds int `env:"RETENTION_INTERVAL_SECONDS" envDefault:"3600"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.FrameMaxBytes <= 0 {
		return fmt.Errorf("FRAME_MAX_BYTES must be positive")
	}
	if c.FrameMaxSeqJump <= 0 {
		return fmt.Errorf("FRAME_MAX_SEQ_JUMP must be positive")
	}
	if c.EventRetentionDays < 0 {
		return fmt.Errorf("EVENT_RETENTION_DAYS must not be negative")
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
