// Package main runs the relay server: WebSocket clients connect, create or
// join rooms by code and exchange text with the other members of their room.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/broker"
	"github.com/cory-johannsen/relay/internal/command"
	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/server"
	"github.com/cory-johannsen/relay/internal/session"
	"github.com/cory-johannsen/relay/internal/transport/websocket"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file (empty for defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.String("name", cfg.Server.Name),
		zap.String("websocket_addr", cfg.WebSocket.Addr()),
		zap.String("path", cfg.WebSocket.Path),
	)

	// Build services
	ids := broker.NewIDAllocator(
		cfg.Broker.RoomCodeLength,
		cfg.Broker.MaxIDAttempts,
		cfg.Broker.MaxCodeAttempts,
		broker.NewCryptoSource(),
	)
	relay := broker.New(cfg.Broker, ids, logger)
	handler := session.NewHandler(relay, cfg.Session, cfg.WebSocket.OutboundBuffer, logger)
	acceptor := websocket.NewAcceptor(cfg.WebSocket, handler, logger)

	logger.Info("command registry loaded",
		zap.Int("commands", len(command.DefaultRegistry().Commands())),
	)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("broker", relay)
	if cfg.Broker.StatsInterval > 0 {
		lifecycle.Add("stats", server.NewTaskService(func(ctx context.Context) {
			relay.LogStats(ctx, cfg.Broker.StatsInterval)
		}))
	}
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("relay initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
