package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/auth"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/bridge"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/broker"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/heartbeat"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/monitoring"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/platform"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/protocol"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/registry"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/transport"
	"github.com/santoshkunwar8/microservice-kurax-socialmedia-sub000/internal/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Basic logger until the structured one exists
	startup := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags)
	startup.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := platform.LoadConfig(nil)
	if err != nil {
		startup.Fatalf("Failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.InitGlobalLogger(monitoring.LoggerConfig{
		Level:   types.LogLevel(cfg.LogLevel),
		Format:  types.LogFormat(cfg.LogFormat),
		Service: cfg.ServiceName,
	})
	if types.LogFormat(cfg.LogFormat) == types.LogFormatPretty {
		cfg.Print()
	} else {
		cfg.LogConfig(logger)
	}

	jwt, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAlg, cfg.JWTIssuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token verifier")
	}

	bus, err := broker.Open(cfg.BrokerURL, broker.Options{
		ClientID: cfg.KafkaClientID,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to broker")
	}

	reg := registry.New(logger)

	br := bridge.New(bridge.Config{
		Broker:         bus,
		Sender:         reg,
		Prefix:         cfg.BrokerChannelPrefix,
		PublishTimeout: cfg.BrokerPublishTimeout,
		Logger:         logger,
	})
	if err := br.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to subscribe to broker channels")
	}

	handler := protocol.New(protocol.Config{
		Registry:     reg,
		Verifier:     jwt,
		Publisher:    br,
		Logger:       logger,
		MessageRate:  cfg.ClientMessageRate,
		MessageBurst: cfg.ClientMessageBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	system := monitoring.NewSystemMonitor(logger)
	go system.Run(ctx, cfg.MetricsInterval)

	supervisor := heartbeat.New(heartbeat.Config{
		Source:   reg,
		Reaper:   handler,
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
		Logger:   logger,
	})
	go supervisor.Run(ctx)

	server := transport.NewServer(transport.Config{
		Server:   cfg.ServerConfig(),
		Handler:  handler,
		Registry: reg,
		System:   system,
		Logger:   logger,
	})
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	cancel()

	if err := bus.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close broker connection")
	}
	logger.Info().Msg("Gateway stopped")
}
