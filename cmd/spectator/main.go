// =============================================================================
// FLOOD DUEL - SPECTATOR
// =============================================================================
// This standalone process follows a session without joining it:
// - Subscribes to the server's Redis channel or its local IPC socket
// - Keeps a local mirror of the latest snapshot
// - Logs phase changes, water level and dike heights as they move
//
// USAGE:
//   1. Start the server with REDIS_ADDR set: go run ./cmd/server
//   2. Then start this spectator:             go run ./cmd/spectator
//
//   For a same-host spectator without Redis, set IPC_SOCKET on the server
//   and run this with SPECTATOR_SOURCE=ipc.
// =============================================================================
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flood-duel/internal/config"
	"flood-duel/internal/game"
	"flood-duel/internal/ipc"
	"flood-duel/internal/replication"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// spectatorConfig is the subset of settings this process reads.
type spectatorConfig struct {
	Source       string        `env:"SPECTATOR_SOURCE" envDefault:"redis"`
	IPCSocket    string        `env:"IPC_SOCKET" envDefault:"/tmp/flood-duel.sock"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisChannel string        `env:"REDIS_CHANNEL" envDefault:"flood-duel"`
	PollInterval time.Duration `env:"SPECTATOR_POLL" envDefault:"250ms"`
	Development  bool          `env:"LOG_DEV" envDefault:"true"`
}

func main() {
	if err := godotenv.Load("../.env"); err != nil {
		_ = godotenv.Load(".env")
	}

	var cfg spectatorConfig
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if !cfg.Development {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror := replication.NewMirror("spectator")
	errCh := make(chan error, 1)

	switch cfg.Source {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		go func() {
			errCh <- replication.SubscribeRedis(ctx, client, cfg.RedisChannel, mirror, logger)
		}()
		logger.Info("spectating",
			zap.String("addr", cfg.RedisAddr),
			zap.String("channel", cfg.RedisChannel),
		)

	case "ipc":
		sub := ipc.NewSubscriber(cfg.IPCSocket, logger)
		sub.Follow(mirror)
		sub.OnDisconnect(func() { logger.Warn("ipc connection lost, retrying") })
		sub.Start()
		defer sub.Stop()
		logger.Info("spectating", zap.String("socket", ipc.GetPlatformAddress(cfg.IPCSocket)))

	default:
		logger.Fatal("unknown SPECTATOR_SOURCE, want redis or ipc", zap.String("source", cfg.Source))
	}

	w := watcher{mirror: mirror, logger: logger}
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("goodbye", zap.Uint64("version", mirror.Version()), zap.Uint64("stale", mirror.Stale()))
			return
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Fatal("subscription ended", zap.Error(err))
			}
			return
		case <-ticker.C:
			w.report()
		}
	}
}

// watcher logs what changed in the mirror since the last report.
type watcher struct {
	mirror *replication.Mirror
	logger *zap.Logger

	version   uint64
	phase     game.Phase
	seenPhase bool
	lastSeq   uint64
	decided   bool
}

func (w *watcher) report() {
	for _, e := range w.mirror.Broadcasts() {
		if e.Sequence <= w.lastSeq {
			continue
		}
		w.lastSeq = e.Sequence
		w.logger.Info("event", zap.Stringer("kind", e.Kind), zap.Int("player", e.PlayerID), zap.Any("payload", e.Payload))
	}

	snap := w.mirror.State()
	if snap == nil || snap.Version == w.version {
		return
	}
	w.version = snap.Version

	if !w.seenPhase || snap.Phase != w.phase {
		w.logger.Info("phase", zap.String("phase", snap.Phase.String()), zap.Int("connected", snap.ConnectedCount))
		w.phase, w.seenPhase = snap.Phase, true
	}

	fields := []zap.Field{
		zap.Float64("elapsed", snap.ElapsedTime),
		zap.Float64("water", snap.WaterLevel),
	}
	for _, p := range snap.Players {
		fields = append(fields, zap.Float64(p.Name, p.TotalHeight))
	}
	if snap.TimeLimited {
		fields = append(fields, zap.Float64("remaining", snap.RemainingTime))
	}
	w.logger.Debug("state", fields...)

	if snap.Decided && !w.decided {
		w.logger.Info("decided",
			zap.Int("winner", snap.WinnerID),
			zap.String("condition", snap.Condition.String()),
		)
	}
	w.decided = snap.Decided
}
