// Package replication mirrors authoritative session state to read-only
// replicas. The authority pushes snapshots and broadcasts into sinks; it
// never waits on them.
package replication

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks flood-duel/internal/replication Sink

import (
	"context"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
)

// Sink receives replicated state. Implementations must be safe to call from
// the Publisher goroutine.
type Sink interface {
	Name() string
	PushState(ctx context.Context, snap *game.Snapshot) error
	PushBroadcast(ctx context.Context, e events.Event) error
}
