package ipc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/replication"

	"go.uber.org/zap"
)

// ErrSinkBacklogged is returned when the outbound queue is full.
var ErrSinkBacklogged = errors.New("ipc sink backlogged")

var _ replication.Sink = (*SocketSink)(nil)

// SinkConfig configures a SocketSink.
type SinkConfig struct {
	SocketPath string
	Hello      Hello
	Logger     *zap.Logger
}

// SocketSinkStats is a point-in-time view of sink counters.
type SocketSinkStats struct {
	Clients int
	Sent    int64
	Dropped int64
	Pongs   int64
}

// SocketSink replicates snapshots and broadcasts to local subscribers.
// New clients receive the Hello and the latest snapshot before anything else.
type SocketSink struct {
	socketPath string
	listener   net.Listener
	hello      Hello
	logger     *zap.Logger

	clients   map[net.Conn]struct{}
	clientsMu sync.RWMutex

	// state holds at most one encoded snapshot; frames carries events and
	// pings, which are never displaced by a newer snapshot.
	state  chan []byte
	frames chan []byte
	latest atomic.Pointer[[]byte]

	clientCount atomic.Int32
	sent        atomic.Int64
	dropped     atomic.Int64
	pongs       atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSocketSink creates a sink; call Start to begin listening.
func NewSocketSink(cfg SinkConfig) *SocketSink {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &SocketSink{
		socketPath: cfg.SocketPath,
		hello:      cfg.Hello,
		logger:     cfg.Logger.Named("ipc"),
		clients:    make(map[net.Conn]struct{}),
		state:      make(chan []byte, 1),
		frames:     make(chan []byte, 64),
		stopCh:     make(chan struct{}),
	}
}

// Start opens the listener and starts the accept, write and ping loops.
func (s *SocketSink) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := CreatePlatformListener(s.socketPath)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.listener = listener

	s.wg.Add(3)
	go s.acceptLoop()
	go s.writeLoop()
	go s.pingLoop()

	s.logger.Info("ipc sink listening", zap.String("addr", GetPlatformAddress(s.socketPath)))
	return nil
}

// Stop closes the listener and every client.
func (s *SocketSink) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stopCh)
	_ = s.listener.Close()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[net.Conn]struct{})
	s.clientsMu.Unlock()

	s.wg.Wait()

	_ = CleanupSocket(s.socketPath)
	s.logger.Info("ipc sink stopped", zap.Int64("sent", s.sent.Load()), zap.Int64("dropped", s.dropped.Load()))
}

// Name identifies the sink.
func (s *SocketSink) Name() string { return "ipc" }

// PushState queues snap for every client, replacing a snapshot that has not
// been written yet. The snapshot is encoded on the caller's goroutine.
func (s *SocketSink) PushState(_ context.Context, snap *game.Snapshot) error {
	if snap == nil {
		return nil
	}
	frame, err := Encode(MsgTypeState, snap)
	if err != nil {
		return err
	}
	s.latest.Store(&frame)

	if !s.running.Load() {
		return nil
	}

	select {
	case s.state <- frame:
		return nil
	default:
	}
	select {
	case <-s.state:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.state <- frame:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// PushBroadcast queues e for every client. Broadcasts are never dropped in
// favour of newer frames; a full queue is reported instead. A queued
// snapshot is written before any broadcast queued after it.
func (s *SocketSink) PushBroadcast(_ context.Context, e events.Event) error {
	if !s.running.Load() {
		return nil
	}
	frame, err := Encode(MsgTypeEvent, e)
	if err != nil {
		return err
	}

	select {
	case s.frames <- frame:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSinkBacklogged
	}
}

// GetStats returns sink statistics
func (s *SocketSink) GetStats() SocketSinkStats {
	return SocketSinkStats{
		Clients: int(s.clientCount.Load()),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Pongs:   s.pongs.Load(),
	}
}

func (s *SocketSink) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("ipc accept", zap.Error(err))
			continue
		}
		s.addClient(conn)
	}
}

// addClient greets conn before it joins the broadcast set, so the write
// loop never interleaves frames with the greeting.
func (s *SocketSink) addClient(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := WriteMessage(conn, MsgTypeHello, s.hello); err != nil {
		s.logger.Warn("ipc hello", zap.Error(err))
		_ = conn.Close()
		return
	}
	if latest := s.latest.Load(); latest != nil {
		if _, err := conn.Write(*latest); err != nil {
			s.logger.Warn("ipc initial state", zap.Error(err))
			_ = conn.Close()
			return
		}
	}

	s.clientsMu.Lock()
	if !s.running.Load() {
		s.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	count := s.clientCount.Add(1)
	s.logger.Info("ipc client connected", zap.Int32("clients", count))

	s.wg.Add(1)
	go s.readLoop(conn)
}

func (s *SocketSink) removeClient(conn net.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	_ = conn.Close()

	count := s.clientCount.Add(-1)
	s.logger.Info("ipc client disconnected", zap.Int32("clients", count))
}

// readLoop drains pongs so a closed client is noticed without a write.
func (s *SocketSink) readLoop(conn net.Conn) {
	defer s.wg.Done()
	defer s.removeClient(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		msgType, _, err := ReadMessage(conn)
		if err != nil {
			return
		}
		if msgType == MsgTypePong {
			s.pongs.Add(1)
		}
	}
}

func (s *SocketSink) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case frame := <-s.state:
			s.broadcast(frame)
			continue
		default:
		}

		select {
		case <-s.stopCh:
			return
		case frame := <-s.state:
			s.broadcast(frame)
		case frame := <-s.frames:
			s.broadcast(frame)
		}
	}
}

func (s *SocketSink) pingLoop() {
	defer s.wg.Done()

	ping, err := Encode(MsgTypePing, nil)
	if err != nil {
		return
	}
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case s.frames <- ping:
			default:
			}
		}
	}
}

// broadcast writes frame to all clients and drops the ones that fail.
func (s *SocketSink) broadcast(frame []byte) {
	s.clientsMu.RLock()
	clients := make([]net.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	var failed []net.Conn
	for _, conn := range clients {
		_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		s.removeClient(conn)
	}

	if len(clients) > len(failed) {
		s.sent.Add(1)
	}
}
