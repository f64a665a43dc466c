package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	cfg, err := Load(map[string]interface{}{"--redis": nil, "--help": false})
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg, Default())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	cfg, err := Load(map[string]interface{}{
		"--port":             "9000",
		"--env":              "prod",
		"--max-clients":      "5",
		"--max-message-size": "1024",
		"--read-timeout":     "2m",
		"--ping-interval":    "1m",
		"--write-timeout":    "5s",
		"--log-level":        "debug",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Port, "9000")
	assert.Equal(t, cfg.Env, "prod")
	assert.Equal(t, cfg.MaxClients, 5)
	assert.Equal(t, cfg.MaxMessageSize, int64(1024))
	assert.Equal(t, cfg.ReadTimeout, 2*time.Minute)
	assert.Equal(t, cfg.PingInterval, time.Minute)
	assert.Equal(t, cfg.WriteTimeout, 5*time.Second)
	assert.Equal(t, cfg.LogLevel, "debug")
	assert.Equal(t, cfg.RedisAddr, "redis:6379")

	cfg, err = Load(map[string]interface{}{"--redis": "other:6379"})
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.RedisAddr, "other:6379")
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(map[string]interface{}{"--ping-interval": "90s"})
	assert.NotEqual(t, err, nil)

	_, err = Load(map[string]interface{}{"--max-clients": "0"})
	assert.NotEqual(t, err, nil)

	_, err = Load(map[string]interface{}{"--read-timeout": "soon"})
	assert.NotEqual(t, err, nil)
}
