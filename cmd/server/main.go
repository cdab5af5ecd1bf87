package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"flood-duel/internal/api"
	"flood-duel/internal/clock"
	"flood-duel/internal/config"
	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/ipc"
	"flood-duel/internal/replication"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load .env file from parent directory, then the current one
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	serverCfg := appConfig.Server

	logger := newLogger(serverCfg.LogDevelopment)
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("no .env file found, using environment variables only")
	}

	// Session and engine
	bus := events.NewBus(logger, &clock.DefaultClock{})
	session, err := game.NewSession(&appConfig.Session, game.WithBus(bus), game.WithLogger(logger))
	if err != nil {
		logger.Fatal("create session", zap.Error(err))
	}
	engine := game.NewEngine(session, serverCfg.TickRate, logger)

	logger.Info("session ready",
		zap.String("session", session.ID().String()),
		zap.String("preset", serverCfg.Preset),
		zap.Int("tick_rate", engine.TickRate()),
		zap.Duration("max_duration", appConfig.Session.MaxDuration),
		zap.Strings("materials", appConfig.Session.Materials()),
	)

	// Event journal
	journal := game.NewJournal(logger)
	journal.Attach(bus)
	if serverCfg.JournalPath != "" {
		if err := journal.StartFile(serverCfg.JournalPath); err != nil {
			logger.Warn("event journal disabled", zap.Error(err))
		} else {
			logger.Info("event journal", zap.String("path", serverCfg.JournalPath))
		}
	}

	bus.Subscribe(events.KindGameEnded, func(e events.Event) error {
		if o, ok := e.Payload.(events.Outcome); ok {
			api.RecordOutcome(o.Condition)
		}
		return nil
	})

	// Debug server
	debugSrv := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:       serverCfg.DebugEnabled,
		ListenAddr:    serverCfg.DebugAddr,
		AllowExternal: serverCfg.DebugAllowExternal,
		BasicAuthUser: serverCfg.DebugUser,
		BasicAuthPass: serverCfg.DebugPass,
	}, logger)

	// API server
	seats, err := api.NewSeatSigner(serverCfg.SeatSecret)
	if err != nil {
		logger.Fatal("seat signer", zap.Error(err))
	}
	if serverCfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, session control routes are open")
	}
	server := api.NewServer(api.RouterConfig{
		Controller: engine,
		Seats:      seats,
		AdminToken: serverCfg.AdminToken,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: serverCfg.RateLimitRPS,
			Burst:             serverCfg.RateLimitBurst,
			CleanupInterval:   api.DefaultRateLimitConfig.CleanupInterval,
		},
		CommandLimiter: api.NewCommandLimiter(api.CommandLimitConfig{
			PerSecond: serverCfg.CommandRate,
			Burst:     serverCfg.CommandBurst,
		}),
		CORSOrigins: serverCfg.CORSOrigins,
		Logger:      logger,
	})

	// Replication: WebSocket clients, an in-process mirror, optional Redis
	// and local socket sinks
	mirror := replication.NewMirror("local")
	publisher := replication.NewPublisher(logger, server.Hub(), mirror)
	publisher.OnFailure(func(sink string, err error) {
		api.RecordReplicationFailure(sink)
	})

	var redisClient *redis.Client
	if serverCfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: serverCfg.RedisAddr})
		sink, err := replication.NewRedisSink(&replication.RedisConfig{
			RedisClient: redisClient,
			Channel:     serverCfg.RedisChannel,
			StateTTL:    time.Hour,
		})
		if err != nil {
			logger.Warn("redis replication disabled", zap.String("addr", serverCfg.RedisAddr), zap.Error(err))
		} else {
			publisher.AddSink(sink)
			logger.Info("redis replication", zap.String("channel", serverCfg.RedisChannel))
		}
	}

	var ipcSink *ipc.SocketSink
	if serverCfg.IPCSocket != "" {
		ipcSink = ipc.NewSocketSink(ipc.SinkConfig{
			SocketPath: serverCfg.IPCSocket,
			Hello: ipc.Hello{
				SessionID: session.ID().String(),
				TickRate:  engine.TickRate(),
				Materials: appConfig.Session.Materials(),
			},
			Logger: logger,
		})
		if err := ipcSink.Start(); err != nil {
			logger.Warn("ipc replication disabled", zap.String("socket", serverCfg.IPCSocket), zap.Error(err))
			ipcSink = nil
		} else {
			publisher.AddSink(ipcSink)
		}
	}
	publisher.Attach(bus)

	engine.SetCallbacks(
		api.RecordTick,
		func(snap *game.Snapshot) {
			api.ObserveSnapshot(snap)
			publisher.OfferState(snap)
		},
	)

	publisher.Start()
	engine.Start()
	publisher.OfferState(engine.Snapshot())

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reportJournal(ctx, journal)

	logger.Info("server ready", zap.Int("port", serverCfg.Port))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownWait)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	engine.Stop()
	publisher.Stop()
	if ipcSink != nil {
		ipcSink.Stop()
	}
	journal.Stop()
	if debugSrv != nil {
		_ = debugSrv.Shutdown(shutdownCtx)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	stats := publisher.Stats()
	logger.Info("goodbye",
		zap.Int64("ticks", engine.TickCount()),
		zap.Uint64("replicated", stats.Delivered),
		zap.Uint64("mirror_version", mirror.Version()),
	)
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger
}

// reportJournal copies journal counters into metrics until ctx is done.
func reportJournal(ctx context.Context, journal *game.Journal) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.UpdateJournalStats(journal.Stats())
		}
	}
}
