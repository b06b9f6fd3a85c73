package bunny

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is a connection to a broker. Commands are queued and sent one at a
// time once the connection is authenticated; the connection is re-established
// according to the reconnect settings when the transport fails.
//
// Callbacks, consumer handlers, error handlers and state listeners all run on
// the client's event loop. They may call the Async methods but must not call
// the blocking variants, Connect, WaitReady, or Close.
type Client struct {
	config        Config
	sessionID     string
	logger        *slog.Logger
	dialer        Dialer
	chooser       ServerChooser
	strategy      ReconnectDelayStrategy
	authenticator Authenticator
	metrics       *Metrics

	lock         sync.Mutex
	inbox        []*command
	state        ConnectionState
	clientID     string
	failure      error
	started      bool
	closed       bool
	stateChanged chan struct{}
	errorHandler func(error)
	listeners    []ConnectionStateListener

	wake   chan struct{}
	events chan event
	stop   chan struct{}
	done   chan struct{}

	// Owned by the event loop.
	connection        net.Conn
	generation        uint64
	writes            chan []byte
	cancelDial        context.CancelFunc
	pipe              pipeline
	out               outbox
	consumer          func([]byte)
	consumerQueue     string
	reconnectAttempts int
	reconnectTimer    *time.Timer
	commandTimer      *time.Timer
	livenessTimer     *time.Timer
	lastInbound       time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger. The default discards records.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithDialer replaces the transport selected by Config.Transport.
func WithDialer(dialer Dialer) Option {
	return func(client *Client) {
		if dialer != nil {
			client.dialer = dialer
		}
	}
}

// WithMetrics records driver activity into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(client *Client) { client.metrics = metrics }
}

// WithAuthenticator sets the credential provider.
func WithAuthenticator(authenticator Authenticator) Option {
	return func(client *Client) {
		if authenticator != nil {
			client.authenticator = authenticator
		}
	}
}

// WithServerChooser replaces the round-robin chooser built from Host, Port
// and Failover.
func WithServerChooser(chooser ServerChooser) Option {
	return func(client *Client) {
		if chooser != nil {
			client.chooser = chooser
		}
	}
}

// WithReconnectDelayStrategy replaces the strategy selected by
// Config.Reconnect.Strategy.
func WithReconnectDelayStrategy(strategy ReconnectDelayStrategy) Option {
	return func(client *Client) {
		if strategy != nil {
			client.strategy = strategy
		}
	}
}

// NewClient validates config and returns a disconnected client.
func NewClient(config Config, options ...Option) (*Client, error) {
	defaults := DefaultConfig()
	if config.Transport == "" {
		config.Transport = defaults.Transport
	}
	if config.WebSocketPath == "" {
		config.WebSocketPath = defaults.WebSocketPath
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config:        config,
		sessionID:     uuid.NewString(),
		logger:        slog.New(slog.DiscardHandler),
		dialer:        config.dialer(),
		chooser:       NewDefaultServerChooser(config.addresses()...),
		strategy:      newReconnectDelayStrategy(config.Reconnect),
		authenticator: staticAuthenticator{},
		stateChanged:  make(chan struct{}),
		wake:          make(chan struct{}, 1),
		events:        make(chan event, 64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(client)
	}
	client.logger = client.logger.With("component", "bunny", "session", client.sessionID)
	client.metrics.recordState(StateDisconnected)
	return client, nil
}

// SessionID identifies this client instance in logs. It is not sent to the
// broker.
func (client *Client) SessionID() string { return client.sessionID }

// State returns the current connection state.
func (client *Client) State() ConnectionState {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.state
}

// ClientID returns the id assigned by the broker for the current
// connection, or "" unless the client is Authenticating or Ready.
func (client *Client) ClientID() string {
	client.lock.Lock()
	defer client.lock.Unlock()
	if !client.state.hasSession() {
		return ""
	}
	return client.clientID
}

// SetErrorHandler sets the handler for fatal errors.
func (client *Client) SetErrorHandler(errorHandler func(error)) *Client {
	client.lock.Lock()
	client.errorHandler = errorHandler
	client.lock.Unlock()
	return client
}

// AddConnectionStateListener registers listener for state changes.
func (client *Client) AddConnectionStateListener(listener ConnectionStateListener) *Client {
	if listener == nil {
		return client
	}
	client.lock.Lock()
	client.listeners = append(client.listeners, listener)
	client.lock.Unlock()
	return client
}

// Connect starts the connection state machine and waits until the client
// is Ready, Failed, or ctx is done. The state machine keeps running after a
// ctx timeout.
func (client *Client) Connect(ctx context.Context) error {
	if err := client.start(); err != nil {
		return err
	}
	return client.WaitReady(ctx)
}

func (client *Client) start() error {
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.closed {
		return NewError(DisconnectedError, "client closed")
	}
	if !client.started {
		client.started = true
		go client.run()
	}
	return nil
}

// WaitReady blocks until the client is Ready. It returns the terminal error
// if the client fails and a TimedOutError if ctx is done first.
func (client *Client) WaitReady(ctx context.Context) error {
	for {
		client.lock.Lock()
		state := client.state
		changed := client.stateChanged
		failure := client.failure
		closed := client.closed
		client.lock.Unlock()

		switch {
		case closed:
			return NewError(DisconnectedError, "client closed")
		case state == StateReady:
			return nil
		case state == StateFailed:
			return failure
		}

		select {
		case <-ctx.Done():
			return NewError(TimedOutError, "waiting for ready", ctx.Err())
		case <-changed:
		}
	}
}

// Close stops the client. Every pending command fails with a
// DisconnectedError.
func (client *Client) Close() error {
	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		return nil
	}
	client.closed = true
	started := client.started
	var pending []*command
	if !started {
		pending = client.inbox
		client.inbox = nil
	}
	client.lock.Unlock()

	if !started {
		for _, cmd := range pending {
			cmd.fail(NewError(DisconnectedError, "client closed"))
		}
		return nil
	}
	close(client.stop)
	<-client.done
	return nil
}

func (client *Client) enqueue(cmd *command) error {
	client.lock.Lock()
	switch {
	case client.closed:
		client.lock.Unlock()
		return NewError(DisconnectedError, "client closed")
	case client.state == StateFailed:
		failure := client.failure
		client.lock.Unlock()
		return NewError(DisconnectedError, "client failed", failure)
	}
	cmd.enqueuedAt = time.Now()
	client.inbox = append(client.inbox, cmd)
	client.lock.Unlock()

	select {
	case client.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueDeclareAsync declares a queue. callback receives the broker's result
// code; ResultAlreadyExist counts as success.
func (client *Client) QueueDeclareAsync(options QueueOptions, callback func(ResultCode, error)) error {
	if options.Name == "" {
		return NewError(InvalidQueueError, "queue name is required")
	}
	return client.enqueue(&command{
		kind:    CommandQueueDeclare,
		options: options,
		done: func(result commandResult) {
			if callback != nil {
				callback(result.Code, result.Err)
			}
		},
	})
}

// PublishAsync puts payload on queue.
func (client *Client) PublishAsync(queue string, payload []byte, callback func(string, error)) error {
	if queue == "" {
		return NewError(InvalidQueueError, "queue name is required")
	}
	return client.enqueue(&command{
		kind:    CommandPublish,
		queue:   queue,
		payload: append([]byte(nil), payload...),
		done: func(result commandResult) {
			if callback != nil {
				callback(result.Message, result.Err)
			}
		},
	})
}

// ConsumeAsync registers handler as the client's only consumer and
// subscribes it to queue. A later Consume replaces it.
func (client *Client) ConsumeAsync(queue string, handler func([]byte)) error {
	if queue == "" {
		return NewError(InvalidQueueError, "queue name is required")
	}
	if handler == nil {
		return NewError(CommandError, "consumer handler is required")
	}
	return client.enqueue(&command{
		kind:    CommandConsume,
		queue:   queue,
		handler: handler,
	})
}

// AckAsync acknowledges the last delivery. callback receives false when the
// broker rejects the ack or the command fails.
func (client *Client) AckAsync(callback func(bool)) error {
	return client.enqueue(&command{
		kind: CommandAck,
		done: func(result commandResult) {
			if callback != nil {
				callback(result.Err == nil && result.Accepted)
			}
		},
	})
}

// QueueDeclare is the blocking form of QueueDeclareAsync.
func (client *Client) QueueDeclare(ctx context.Context, options QueueOptions) (ResultCode, error) {
	if options.Name == "" {
		return 0, NewError(InvalidQueueError, "queue name is required")
	}
	result, err := client.await(ctx, &command{kind: CommandQueueDeclare, options: options})
	return result.Code, err
}

// Publish is the blocking form of PublishAsync.
func (client *Client) Publish(ctx context.Context, queue string, payload []byte) (string, error) {
	if queue == "" {
		return "", NewError(InvalidQueueError, "queue name is required")
	}
	result, err := client.await(ctx, &command{
		kind:    CommandPublish,
		queue:   queue,
		payload: append([]byte(nil), payload...),
	})
	return result.Message, err
}

// Consume registers handler and waits until the Subscribe frame is sent.
func (client *Client) Consume(ctx context.Context, queue string, handler func([]byte)) error {
	if queue == "" {
		return NewError(InvalidQueueError, "queue name is required")
	}
	if handler == nil {
		return NewError(CommandError, "consumer handler is required")
	}
	_, err := client.await(ctx, &command{kind: CommandConsume, queue: queue, handler: handler})
	return err
}

// Ack is the blocking form of AckAsync.
func (client *Client) Ack(ctx context.Context) (bool, error) {
	result, err := client.await(ctx, &command{kind: CommandAck})
	return err == nil && result.Accepted, err
}

// await enqueues cmd and waits for its result. A ctx timeout abandons the
// wait only; the command stays queued.
func (client *Client) await(ctx context.Context, cmd *command) (commandResult, error) {
	results := make(chan commandResult, 1)
	cmd.done = func(result commandResult) { results <- result }
	if err := client.enqueue(cmd); err != nil {
		return commandResult{}, err
	}

	select {
	case result := <-results:
		return result, result.Err
	case <-ctx.Done():
		return commandResult{}, NewError(TimedOutError, cmd.kind.String(), ctx.Err())
	}
}
