// Package broker is an in-memory broker speaking the client wire protocol
// over TCP and WebSocket. It backs the fakebroker command and the
// integration tests of the client and bunnyctl.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

// Options configures a Broker.
type Options struct {
	Users             map[string]string
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
	// Now overrides the clock used for message expiry.
	Now func() time.Time
}

// Broker is an in-memory broker speaking the client protocol over TCP and
// WebSocket connections.
type Broker struct {
	logger    *slog.Logger
	auth      *authStore
	heartbeat time.Duration
	metrics   *brokerMetrics
	upgrader  websocket.Upgrader
	startedAt time.Time
	now       func() time.Time

	mu       sync.Mutex
	queues   map[string]*queue
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// New returns an empty broker.
func New(options Options) *Broker {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Broker{
		logger:    logger,
		auth:      newAuthStore(options.Users),
		heartbeat: options.HeartbeatInterval,
		metrics:   newBrokerMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
		now:       now,
		queues:    make(map[string]*queue),
		sessions:  make(map[string]*session),
	}
}

// Serve accepts stream connections from listener until ctx is done or the
// listener is closed.
func (b *Broker) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	b.logger.Info("listening", "transport", "tcp", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Warn("accept failed", "error", err)
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		go b.handleConnection(ctx, conn)
	}
}

// ServeWebSocket upgrades the request and serves it as a session. Each
// binary message carries one frame.
func (b *Broker) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	b.handleConnection(context.Background(), bunny.NewWebSocketConn(ws))
}

func (b *Broker) handleConnection(ctx context.Context, conn net.Conn) {
	s := newSession(b, uuid.NewString(), conn)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.sessions[s.id] = s
	b.wg.Add(1)
	b.mu.Unlock()
	b.metrics.sessions.Inc()
	defer b.wg.Done()

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	s.logger.Info("session opened")
	s.serve()
	s.close()

	b.mu.Lock()
	b.releaseLocked(s)
	delete(b.sessions, s.id)
	b.mu.Unlock()
	b.metrics.sessions.Dec()
	s.logger.Info("session closed")
}

// Disconnect closes the session with the given id. The session is
// unregistered before its transport closes.
func (b *Broker) Disconnect(id string) bool {
	b.mu.Lock()
	s, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Close disconnects every session and waits for them to finish.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	for _, q := range b.queues {
		b.stopAckTimerLocked(q)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	b.wg.Wait()
}

// Queues lists the queues sorted by name.
func (b *Broker) Queues() []QueueInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]QueueInfo, 0, len(b.queues))
	for _, q := range b.queues {
		infos = append(infos, q.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Queue returns one queue.
func (b *Broker) Queue(name string) (QueueInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return QueueInfo{}, false
	}
	return q.info(), true
}

// Purge drops the waiting messages of a queue.
func (b *Broker) Purge(name string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.purgeLocked(name)
}

// Sessions lists the open sessions sorted by connect time.
func (b *Broker) Sessions() []SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]SessionInfo, 0, len(b.sessions))
	for _, s := range b.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}
