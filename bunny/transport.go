package bunny

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens the byte stream to the broker.
type Dialer interface {
	DialContext(ctx context.Context, network string, address string) (net.Conn, error)
}

// FrameConn is implemented by transports that preserve frame boundaries.
// The reader uses ReadFrame instead of splitting the byte stream.
type FrameConn interface {
	net.Conn
	ReadFrame() ([]byte, error)
}

// TCPDialer dials plain TCP or, with TLSConfig set, TLS. Keepalive and
// no-delay are enabled on every connection.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	TLSConfig *tls.Config
}

// DialContext implements Dialer.
func (dialer *TCPDialer) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: dialer.Timeout, KeepAlive: dialer.KeepAlive}
	if netDialer.KeepAlive == 0 {
		netDialer.KeepAlive = 30 * time.Second
	}

	var (
		connection net.Conn
		err        error
	)
	if dialer.TLSConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: dialer.TLSConfig}
		connection, err = tlsDialer.DialContext(ctx, network, address)
	} else {
		connection, err = netDialer.DialContext(ctx, network, address)
	}
	if err != nil {
		return nil, err
	}

	if tcpConnection, ok := underlyingTCP(connection); ok {
		_ = tcpConnection.SetNoDelay(true)
		_ = tcpConnection.SetKeepAlive(true)
	}
	return connection, nil
}

func underlyingTCP(connection net.Conn) (*net.TCPConn, bool) {
	if tlsConnection, ok := connection.(*tls.Conn); ok {
		connection = tlsConnection.NetConn()
	}
	tcpConnection, ok := connection.(*net.TCPConn)
	return tcpConnection, ok
}

// WebSocketDialer carries frames as binary WebSocket messages, one frame per
// message.
type WebSocketDialer struct {
	Path             string
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
}

// DialContext implements Dialer.
func (dialer *WebSocketDialer) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	target := url.URL{Scheme: "ws", Host: address, Path: dialer.Path}
	if dialer.TLSConfig != nil {
		target.Scheme = "wss"
	}

	wsDialer := websocket.Dialer{
		TLSClientConfig:  dialer.TLSConfig,
		HandshakeTimeout: dialer.HandshakeTimeout,
		NetDialContext: func(ctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	connection, response, err := wsDialer.DialContext(ctx, target.String(), nil)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(connection), nil
}

// WebSocketConn adapts a websocket connection to net.Conn.
type WebSocketConn struct {
	*websocket.Conn

	writeLock sync.Mutex
	pending   []byte
}

// NewWebSocketConn wraps connection. It is used by both the dialer and the
// fake broker.
func NewWebSocketConn(connection *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: connection}
}

// ReadFrame returns the next binary message.
func (connection *WebSocketConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := connection.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Read implements io.Reader over consecutive messages.
func (connection *WebSocketConn) Read(buffer []byte) (int, error) {
	if len(connection.pending) == 0 {
		frame, err := connection.ReadFrame()
		if err != nil {
			return 0, err
		}
		connection.pending = frame
	}
	count := copy(buffer, connection.pending)
	connection.pending = connection.pending[count:]
	return count, nil
}

// Write sends buffer as one binary message.
func (connection *WebSocketConn) Write(buffer []byte) (int, error) {
	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()
	if err := connection.Conn.WriteMessage(websocket.BinaryMessage, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

// SetDeadline sets both read and write deadlines.
func (connection *WebSocketConn) SetDeadline(deadline time.Time) error {
	if err := connection.Conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return connection.Conn.SetWriteDeadline(deadline)
}

// Close sends a close message before closing the socket.
func (connection *WebSocketConn) Close() error {
	connection.writeLock.Lock()
	_ = connection.Conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	connection.writeLock.Unlock()
	return connection.Conn.Close()
}
