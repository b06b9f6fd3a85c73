package broker

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

const (
	readChunkSize = 64 * 1024
	maxPending    = 16 << 20
)

// SessionInfo is the admin view of a session.
type SessionInfo struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	Username      string    `json:"username,omitempty"`
	Authenticated bool      `json:"authenticated"`
	Queue         string    `json:"queue,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// session is one client connection. Fields below mu-guarded are protected
// by the broker's mutex.
type session struct {
	id          string
	broker      *Broker
	conn        net.Conn
	writer      *connWriter
	logger      *slog.Logger
	connectedAt time.Time

	closeOnce sync.Once
	closing   chan struct{}

	// guarded by broker.mu
	authenticated bool
	username      string
	queue         string
	heartbeating  bool
}

func newSession(b *Broker, id string, conn net.Conn) *session {
	_, framed := conn.(bunny.FrameConn)
	return &session{
		id:          id,
		broker:      b,
		conn:        conn,
		writer:      newConnWriter(conn, !framed),
		logger:      b.logger.With("session", id, "remote", conn.RemoteAddr().String()),
		connectedAt: time.Now(),
		closing:     make(chan struct{}),
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:            s.id,
		Remote:        s.conn.RemoteAddr().String(),
		Username:      s.username,
		Authenticated: s.authenticated,
		Queue:         s.queue,
		ConnectedAt:   s.connectedAt,
	}
}

func (s *session) send(frame []byte) {
	if !s.writer.send(frame) {
		s.logger.Warn("outbound frame dropped", "opcode", bunny.Opcode(int8(frame[0])).String())
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
		s.writer.close()
	})
}

// serve reads requests until the connection fails.
func (s *session) serve() {
	if framed, ok := s.conn.(bunny.FrameConn); ok {
		s.serveFrames(framed)
		return
	}
	s.serveStream()
}

func (s *session) serveFrames(conn bunny.FrameConn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return
		}
		request, _, err := bunny.DecodeRequest(frame)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		s.handle(request)
	}
}

func (s *session) serveStream() {
	chunk := make([]byte, readChunkSize)
	var pending []byte
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			pending = s.consume(append(pending, chunk[:n]...))
			if len(pending) > maxPending {
				s.logger.Warn("request exceeds size limit", "bytes", len(pending))
				return
			}
		}
		if err != nil {
			s.logReadError(err)
			return
		}
	}
}

// consume handles every complete request in pending and returns the bytes
// of an incomplete trailing request.
func (s *session) consume(pending []byte) []byte {
	for len(pending) > 0 {
		request, rest, err := s.decodeStream(pending)
		switch {
		case err == nil:
			s.handle(request)
			pending = rest
		case incomplete(err):
			return pending
		case errors.Is(err, bunny.ErrUnknownOpcode):
			s.logger.Warn("skipping unknown opcode", "opcode", int8(pending[0]))
			pending = rest
		default:
			s.logger.Warn("discarding undecodable bytes", "error", err, "bytes", len(pending))
			return nil
		}
	}
	return pending
}

// decodeStream cuts one request from a byte stream. Authenticate and
// Subscribe frames end without a length; the session id and the declared
// queue names tell where they stop.
func (s *session) decodeStream(pending []byte) (bunny.Request, []byte, error) {
	request, rest, err := bunny.DecodeRequest(pending)
	if err != nil {
		return request, rest, err
	}

	switch request.Opcode {
	case bunny.OpAuthenticate:
		switch {
		case strings.HasPrefix(request.ClientID, s.id):
			rest = []byte(request.ClientID[len(s.id):])
			request.ClientID = s.id
		case strings.HasPrefix(s.id, request.ClientID):
			return request, pending, bunny.ErrTruncatedFrame
		}

	case bunny.OpSubscribe:
		s.broker.mu.Lock()
		name := s.broker.matchQueueLocked(request.Metadata)
		s.broker.mu.Unlock()
		if name != "" {
			rest = request.Metadata[len(name):]
			request.Metadata = request.Metadata[:len(name)]
		}
	}
	return request, rest, nil
}

func incomplete(err error) bool {
	return errors.Is(err, bunny.ErrTruncatedFrame) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func (s *session) logReadError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.logger.Debug("read failed", "error", err)
}

func (s *session) handle(request bunny.Request) {
	b := s.broker
	b.metrics.requests.WithLabelValues(request.Opcode.String()).Inc()
	s.logger.Debug("request", "opcode", request.Opcode.String())

	b.mu.Lock()
	defer b.mu.Unlock()

	switch request.Opcode {
	case bunny.OpHeartbeat:

	case bunny.OpClientHandshake:
		if request.Version != bunny.ProtocolVersion {
			s.logger.Warn("unexpected protocol version", "version", request.Version)
		}
		s.send(bunny.EncodeHandshakePacket(s.id))

	case bunny.OpAuthenticate:
		ok := b.auth.authenticate(request.Username, request.Password)
		if request.ClientID != s.id {
			s.logger.Warn("authenticate with foreign client id", "client_id", request.ClientID)
		}
		s.authenticated = ok
		s.username = request.Username
		if !ok {
			s.logger.Info("authentication rejected", "username", request.Username)
			s.send(bunny.EncodeAuthenticatedPacket(false, "invalid credentials"))
			return
		}
		s.logger.Info("authenticated", "username", request.Username)
		s.send(bunny.EncodeAuthenticatedPacket(true, ""))
		s.startHeartbeatLocked()

	case bunny.OpNewQueue:
		if !s.authenticated {
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		config, err := request.QueueConfig()
		if err != nil {
			s.logger.Warn("bad queue options", "error", err)
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		name := string(request.Primary)
		if !b.declareLocked(name, config) {
			s.send(bunny.EncodeResponsePacket(bunny.ResultAlreadyExist))
			return
		}
		s.logger.Info("queue declared", "queue", name)
		s.send(bunny.EncodeResponsePacket(bunny.ResultSuccess))

	case bunny.OpPublish:
		if !s.authenticated {
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		name, err := request.PublishQueue()
		if err != nil || !b.publishLocked(name, request.Primary) {
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		s.send(bunny.EncodeResponsePacket(bunny.ResultSuccess))

	case bunny.OpSubscribe:
		if !s.authenticated {
			return
		}
		name := string(request.Metadata)
		s.logger.Info("consumer subscribed", "queue", name)
		b.subscribeLocked(s, name)

	case bunny.OpAck:
		if !s.authenticated {
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		q, ok := b.ackLocked(s)
		if !ok {
			s.send(bunny.EncodeResponsePacket(bunny.ResultFailure))
			return
		}
		s.send(bunny.EncodeResponsePacket(bunny.ResultSuccess))
		b.dispatchLocked(q)
	}
}

// startHeartbeatLocked starts the heartbeat ticker once the session is
// authenticated, so a heartbeat never trails the Handshake packet.
func (s *session) startHeartbeatLocked() {
	if s.broker.heartbeat <= 0 || s.heartbeating {
		return
	}
	s.heartbeating = true
	go func() {
		ticker := time.NewTicker(s.broker.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-s.closing:
				return
			case <-ticker.C:
				s.writer.send(bunny.EncodeHeartbeat())
			}
		}
	}()
}
