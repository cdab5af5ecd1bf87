package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/replication"

	"go.uber.org/zap"
)

// SubscriberStats is a point-in-time view of subscriber counters.
type SubscriberStats struct {
	States     int64
	Events     int64
	Reconnects int64
	Errors     int64
}

// Subscriber receives replicated state from a SocketSink and reconnects
// whenever the connection drops.
type Subscriber struct {
	socketPath string
	logger     *zap.Logger

	conn   net.Conn
	connMu sync.Mutex

	hello   Hello
	helloMu sync.RWMutex

	states     atomic.Int64
	eventCount atomic.Int64
	reconnects atomic.Int64
	errors     atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	onState      func(*game.Snapshot)
	onEvent      func(events.Event)
	onHello      func(Hello)
	onConnect    func()
	onDisconnect func()
}

// NewSubscriber creates a subscriber for socketPath.
func NewSubscriber(socketPath string, logger *zap.Logger) *Subscriber {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscriber{
		socketPath: socketPath,
		logger:     logger.Named("ipc"),
		stopCh:     make(chan struct{}),
	}
}

// OnState sets a callback for every received snapshot.
func (s *Subscriber) OnState(fn func(*game.Snapshot)) { s.onState = fn }

// OnEvent sets a callback for every received broadcast.
func (s *Subscriber) OnEvent(fn func(events.Event)) { s.onEvent = fn }

// OnHello sets a callback for the greeting sent on each connection.
func (s *Subscriber) OnHello(fn func(Hello)) { s.onHello = fn }

// OnConnect sets a callback for when connection is established
func (s *Subscriber) OnConnect(fn func()) { s.onConnect = fn }

// OnDisconnect sets a callback for when connection is lost
func (s *Subscriber) OnDisconnect(fn func()) { s.onDisconnect = fn }

// Follow feeds every snapshot and broadcast into m.
func (s *Subscriber) Follow(m *replication.Mirror) {
	s.OnState(func(snap *game.Snapshot) { m.Apply(snap) })
	s.OnEvent(func(e events.Event) { _ = m.PushBroadcast(context.Background(), e) })
}

// Start starts the connection loop. Callbacks must be set before Start.
func (s *Subscriber) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go s.connectionLoop()

	s.logger.Info("ipc subscriber started", zap.String("addr", GetPlatformAddress(s.socketPath)))
}

// Stop closes the connection and waits for the loop to exit.
func (s *Subscriber) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
}

// Hello returns the last greeting received.
func (s *Subscriber) Hello() Hello {
	s.helloMu.RLock()
	defer s.helloMu.RUnlock()
	return s.hello
}

// IsConnected returns whether the subscriber is connected
func (s *Subscriber) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

// GetStats returns subscriber statistics
func (s *Subscriber) GetStats() SubscriberStats {
	return SubscriberStats{
		States:     s.states.Load(),
		Events:     s.eventCount.Load(),
		Reconnects: s.reconnects.Load(),
		Errors:     s.errors.Load(),
	}
}

func (s *Subscriber) connectionLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := ConnectPlatform(s.socketPath)
		if err != nil {
			if !s.wait() {
				return
			}
			continue
		}

		s.connMu.Lock()
		if !s.running.Load() {
			s.connMu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.connMu.Unlock()

		if s.onConnect != nil {
			s.onConnect()
		}

		s.readLoop(conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()

		if s.onDisconnect != nil {
			s.onDisconnect()
		}
		s.reconnects.Add(1)

		if !s.wait() {
			return
		}
	}
}

// wait sleeps for ReconnectDelay and reports whether to keep going.
func (s *Subscriber) wait() bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(ReconnectDelay):
		return true
	}
}

// readLoop reads until the connection fails. The sink pings every
// PingInterval, so hitting ReadTimeout means it is gone.
func (s *Subscriber) readLoop(conn net.Conn) {
	for s.running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))

		msgType, data, err := ReadMessage(conn)
		if err != nil {
			if s.running.Load() && !errors.Is(err, io.EOF) {
				s.logger.Warn("ipc read", zap.Error(err))
				s.errors.Add(1)
			}
			return
		}

		switch msgType {
		case MsgTypeState:
			s.handleState(data)
		case MsgTypeEvent:
			s.handleEvent(data)
		case MsgTypeHello:
			s.handleHello(data)
		case MsgTypePing:
			_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			_ = WriteMessage(conn, MsgTypePong, nil)
		}
	}
}

func (s *Subscriber) handleState(data []byte) {
	var snap game.Snapshot
	if err := Decode(data, &snap); err != nil {
		s.logger.Warn("decode state", zap.Error(err))
		s.errors.Add(1)
		return
	}
	s.states.Add(1)
	if s.onState != nil {
		s.onState(&snap)
	}
}

func (s *Subscriber) handleEvent(data []byte) {
	var e events.Event
	if err := Decode(data, &e); err != nil {
		s.logger.Warn("decode event", zap.Error(err))
		s.errors.Add(1)
		return
	}
	s.eventCount.Add(1)
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

func (s *Subscriber) handleHello(data []byte) {
	var h Hello
	if err := Decode(data, &h); err != nil {
		s.logger.Warn("decode hello", zap.Error(err))
		s.errors.Add(1)
		return
	}

	s.helloMu.Lock()
	s.hello = h
	s.helloMu.Unlock()

	s.logger.Info("ipc session", zap.String("session", h.SessionID), zap.Int("tick_rate", h.TickRate))
	if s.onHello != nil {
		s.onHello(h)
	}
}
