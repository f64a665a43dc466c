package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the sync service configuration. Field tags name the docopt
// options they are read from.
type Config struct {
	Port           string        `mapstructure:"--port"`
	Env            string        `mapstructure:"--env"`
	RedisAddr      string        `mapstructure:"--redis"`
	LogLevel       string        `mapstructure:"--log-level"`
	MaxMessageSize int64         `mapstructure:"--max-message-size"`
	WriteTimeout   time.Duration `mapstructure:"--write-timeout"`
	ReadTimeout    time.Duration `mapstructure:"--read-timeout"`
	PingInterval   time.Duration `mapstructure:"--ping-interval"`
	MaxClients     int           `mapstructure:"--max-clients"`
}

func Default() *Config {
	return &Config{
		Port:           "8080",
		Env:            "dev",
		LogLevel:       "info",
		MaxMessageSize: 512 * 1024, // 512KB
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxClients:     1000,
	}
}

// Load overlays parsed command line options on the defaults. Options that
// were not given (nil) keep their default. REDIS_ADDR is used when no redis
// address was passed.
func Load(opts map[string]interface{}) (*Config, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(opts); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.PingInterval >= cfg.ReadTimeout {
		return nil, fmt.Errorf("ping interval %v must be shorter than read timeout %v", cfg.PingInterval, cfg.ReadTimeout)
	}
	if cfg.MaxClients <= 0 {
		return nil, fmt.Errorf("max clients must be positive, got %d", cfg.MaxClients)
	}
	return cfg, nil
}
