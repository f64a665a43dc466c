package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"collaborative-frontend/config"
	"collaborative-frontend/internal/editor"
	"collaborative-frontend/internal/relay"
)

const Version = "0.1.0"

func main() {
	usage := `Document sync service.

Hosts one merge backend per document and serves frontends over websockets
at /documents/<id>/ws. With --redis, changes are relayed between instances.

Usage:
    sync-service [--port=<port>] [--env=<env>] [--redis=<addr>]
        [--log-level=<level>]
        [--max-message-size=<bytes>]
        [--write-timeout=<duration>]
        [--read-timeout=<duration>]
        [--ping-interval=<duration>]
        [--max-clients=<n>]
    sync-service -h | --help
    sync-service --version

Options:
    -h --help                     Show this screen.
    --version                     Show version.
    -p --port=<port>              Listen port [default: 8080].
    --env=<env>                   Environment (dev, staging, prod) [default: dev].
    --redis=<addr>                Redis address for the change relay. Defaults to $REDIS_ADDR.
    --log-level=<level>           Log level [default: info].
    --max-message-size=<bytes>    Largest accepted frame [default: 524288].
    --write-timeout=<duration>    [default: 10s].
    --read-timeout=<duration>     [default: 60s].
    --ping-interval=<duration>    [default: 30s].
    --max-clients=<n>             [default: 1000].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	var rel editor.Relay
	if cfg.RedisAddr != "" {
		r, err := relay.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to redis")
		}
		defer r.Close()
		log.Info().Str("addr", cfg.RedisAddr).Str("origin", r.Origin()).Msg("relay connected")
		rel = r
	}

	service := editor.NewService(&editor.Config{
		MaxMessageSize: cfg.MaxMessageSize,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		PingInterval:   cfg.PingInterval,
		MaxClients:     cfg.MaxClients,
	}, rel)

	if err := service.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start service")
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: service.Router(),
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")
		service.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("sync service listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
