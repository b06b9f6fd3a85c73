package bunny

import (
	"context"
	"fmt"
	"net"
	"time"
)

type event interface{}

type dialedEvent struct {
	generation uint64
	connection net.Conn
	address    string
	err        error
}

type frameEvent struct {
	generation uint64
	frame      []byte
}

type readFailedEvent struct {
	generation uint64
	err        error
}

type writtenEvent struct {
	generation uint64
	err        error
}

type reconnectDueEvent struct {
	generation uint64
}

type commandTimeoutEvent struct {
	generation uint64
	cmd        *command
}

type livenessEvent struct {
	generation uint64
}

const readChunkSize = 32 * 1024

func (client *Client) run() {
	defer close(client.done)
	client.dial()

	for {
		select {
		case <-client.stop:
			client.shutdown()
			return
		case <-client.wake:
			client.drainInbox()
		case ev := <-client.events:
			client.handle(ev)
		}
		client.metrics.recordPending(client.pipe.waiting(), client.out.pending())
	}
}

// post hands ev to the event loop. It gives up once the loop has exited.
func (client *Client) post(ev event) {
	select {
	case client.events <- ev:
	case <-client.done:
	}
}

func (client *Client) handle(ev event) {
	switch ev := ev.(type) {
	case dialedEvent:
		client.onDialed(ev)

	case frameEvent:
		if ev.generation == client.generation {
			client.onFrame(ev.frame)
		}

	case readFailedEvent:
		if ev.generation == client.generation {
			client.onTransportFault(NewError(ConnectionError, "socket read", ev.err))
		}

	case writtenEvent:
		if ev.generation != client.generation {
			return
		}
		if ev.err != nil {
			client.onTransportFault(NewError(ConnectionError, "socket write", ev.err))
			return
		}
		client.out.writable()
		client.flush()

	case reconnectDueEvent:
		if ev.generation == client.generation && client.state == StateReconnecting {
			client.dial()
		}

	case commandTimeoutEvent:
		if ev.generation == client.generation && client.pipe.inFlight == ev.cmd {
			client.onCommandTimeout(ev.cmd)
		}

	case livenessEvent:
		if ev.generation == client.generation {
			client.checkLiveness()
		}
	}
}

func (client *Client) drainInbox() {
	client.lock.Lock()
	commands := client.inbox
	client.inbox = nil
	client.lock.Unlock()

	for _, cmd := range commands {
		if client.state == StateFailed {
			client.finish(cmd, commandResult{Err: NewError(DisconnectedError, "client failed", client.failure)})
			continue
		}
		client.pipe.enqueue(cmd)
	}
	client.drive()
}

func (client *Client) dial() {
	client.generation++
	generation := client.generation
	address := client.chooser.CurrentAddress()
	client.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), client.config.DialTimeout)
	client.cancelDial = cancel
	client.logger.Debug("dialing broker", "address", address, "reconnect_attempt", client.reconnectAttempts)

	go func() {
		connection, err := client.dialer.DialContext(ctx, "tcp", address)
		client.post(dialedEvent{generation: generation, connection: connection, address: address, err: err})
	}()
}

func (client *Client) onDialed(ev dialedEvent) {
	if ev.generation != client.generation || client.state != StateConnecting {
		if ev.connection != nil {
			_ = ev.connection.Close()
		}
		return
	}
	if client.cancelDial != nil {
		client.cancelDial()
		client.cancelDial = nil
	}
	if ev.err != nil {
		client.onTransportFault(NewError(ConnectionRefusedError, ev.address, ev.err))
		return
	}

	client.connection = ev.connection
	client.writes = make(chan []byte, 1)
	go client.readRoutine(ev.generation, ev.connection)
	go client.writeRoutine(ev.generation, ev.connection, client.writes)

	client.logger.Info("transport connected", "address", ev.address)
	client.setState(StateAwaitingHandshake)
	client.lastInbound = time.Now()
	client.armLiveness(client.config.HeartbeatTimeout)
	client.send(EncodeClientHandshake())
}

func (client *Client) readRoutine(generation uint64, connection net.Conn) {
	if frames, ok := connection.(FrameConn); ok {
		for {
			frame, err := frames.ReadFrame()
			if err != nil {
				client.post(readFailedEvent{generation: generation, err: err})
				return
			}
			client.post(frameEvent{generation: generation, frame: frame})
		}
	}

	receiveBuffer := make([]byte, 0, 2*readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		count, err := connection.Read(chunk)
		receiveBuffer = append(receiveBuffer, chunk[:count]...)

		for {
			frame, rest, ok := SplitFrame(receiveBuffer)
			if !ok {
				break
			}
			client.post(frameEvent{generation: generation, frame: append([]byte(nil), frame...)})
			receiveBuffer = rest
		}
		receiveBuffer = append(receiveBuffer[:0:0], receiveBuffer...)

		if size, known := frameSize(receiveBuffer); known && size > maxFrameSize {
			client.post(readFailedEvent{generation: generation, err: NewError(ProtocolError, "inbound frame exceeds limit")})
			return
		}
		if err != nil {
			client.post(readFailedEvent{generation: generation, err: err})
			return
		}
	}
}

func (client *Client) writeRoutine(generation uint64, connection net.Conn, writes <-chan []byte) {
	for frame := range writes {
		_, err := connection.Write(frame)
		client.post(writtenEvent{generation: generation, err: err})
		if err != nil {
			return
		}
	}
}

func (client *Client) send(frame []byte) {
	if client.connection == nil {
		return
	}
	client.out.push(frame)
	client.flush()
}

func (client *Client) flush() {
	frame := client.out.next()
	if frame == nil {
		return
	}
	client.metrics.recordFrameSent(frame)
	client.writes <- frame
}

func (client *Client) onFrame(frame []byte) {
	client.lastInbound = time.Now()

	packet, err := DecodePacket(frame)
	if err != nil {
		client.metrics.recordDecodeError()
		client.logger.Warn("dropping inbound frame", "error", err, "size", len(frame))
		return
	}
	client.metrics.recordFrameReceived(packet.Opcode())

	switch packet := packet.(type) {
	case Heartbeat:
		client.send(EncodeHeartbeat())
	case Handshake:
		client.onHandshake(packet)
	case Authenticated:
		client.onAuthenticated(packet)
	case Response:
		client.onResponse(packet)
	case Message:
		client.onDelivery(packet)
	}
}

func (client *Client) onHandshake(packet Handshake) {
	if client.state != StateAwaitingHandshake {
		client.logger.Warn("ignoring handshake", "state", client.state)
		return
	}

	username, password, err := client.authenticator.Credentials(client.config.Username, client.config.Password)
	if err != nil {
		client.fail(NewError(AuthenticationError, "credentials", err))
		return
	}
	// ClientID stays hidden until the state reaches Authenticating.
	client.setClientID(packet.ID)
	client.setState(StateAuthenticating)
	client.send(EncodeAuthenticate(username, password, packet.ID))
}

func (client *Client) onAuthenticated(packet Authenticated) {
	if client.state != StateAuthenticating {
		client.logger.Warn("ignoring authentication result", "state", client.state)
		return
	}

	client.authenticator.Completed(client.config.Username, packet.OK(), packet.ErrorMessage)
	if !packet.OK() {
		reason := packet.ErrorMessage
		if reason == "" {
			reason = "authentication rejected"
		}
		client.fail(NewError(AuthenticationError, reason))
		return
	}

	client.reconnectAttempts = 0
	client.chooser.ReportSuccess()
	client.setState(StateReady)
	client.logger.Info("session ready", "client_id", client.clientID)

	if client.consumer != nil {
		client.pipe.enqueueFront(&command{
			kind:        CommandConsume,
			queue:       client.consumerQueue,
			handler:     client.consumer,
			resubscribe: true,
		})
	}
	client.drive()
}

func (client *Client) onResponse(packet Response) {
	if client.state != StateReady || client.pipe.idle() {
		client.logger.Warn("dropping unsolicited response", "code", packet.Code)
		return
	}

	cmd := client.pipe.settle()
	client.stopCommandTimer()
	client.logger.Debug("response received", "kind", cmd.kind, "code", packet.Code, "round_trip", time.Since(cmd.sentAt))
	client.finish(cmd, cmd.resolve(packet.Code))
	client.drive()
}

func (client *Client) onDelivery(packet Message) {
	if client.consumer == nil {
		client.logger.Debug("dropping message without consumer", "size", len(packet.Body))
		return
	}
	handler := client.consumer
	client.invoke("consumer", func() { handler(packet.Body) })
}

// drive dispatches queued commands until one occupies the in-flight slot.
func (client *Client) drive() {
	if client.state != StateReady || client.connection == nil {
		return
	}

	for {
		cmd := client.pipe.promote()
		if cmd == nil {
			return
		}

		frame, err := cmd.encode(client.clientID)
		if err != nil {
			if client.pipe.inFlight == cmd {
				client.pipe.settle()
			}
			client.finish(cmd, commandResult{Err: err})
			continue
		}

		cmd.sentAt = time.Now()
		client.send(frame)
		if cmd.kind == CommandConsume {
			client.register(cmd)
			continue
		}
		client.armCommandTimer(cmd)
		return
	}
}

func (client *Client) register(cmd *command) {
	if client.consumer != nil && !cmd.resubscribe {
		client.logger.Info("replacing consumer", "previous_queue", client.consumerQueue, "queue", cmd.queue)
	}
	client.consumer = cmd.handler
	client.consumerQueue = cmd.queue
	client.logger.Debug("consumer subscribed", "queue", cmd.queue, "resubscribe", cmd.resubscribe)
	client.finish(cmd, commandResult{Accepted: true})
}

func (client *Client) finish(cmd *command, result commandResult) {
	client.metrics.recordCommand(cmd.kind, result.Err)
	if result.Err != nil {
		client.logger.Debug("command failed", "kind", cmd.kind, "error", result.Err)
	}
	client.invoke(cmd.kind.String()+" callback", func() { cmd.complete(result) })
}

func (client *Client) invoke(name string, callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			client.logger.Error("callback panicked", "callback", name, "panic", recovered)
		}
	}()
	callback()
}

func (client *Client) armCommandTimer(cmd *command) {
	timeout := client.config.CommandTimeout
	if timeout <= 0 {
		return
	}
	generation := client.generation
	client.commandTimer = time.AfterFunc(timeout, func() {
		client.post(commandTimeoutEvent{generation: generation, cmd: cmd})
	})
}

func (client *Client) stopCommandTimer() {
	if client.commandTimer != nil {
		client.commandTimer.Stop()
		client.commandTimer = nil
	}
}

func (client *Client) onCommandTimeout(cmd *command) {
	client.pipe.settle()
	client.stopCommandTimer()
	err := NewError(TimedOutError, fmt.Sprintf("no response to %s within %s", cmd.kind, client.config.CommandTimeout))
	client.finish(cmd, commandResult{Err: err})
	client.onTransportFault(err)
}

func (client *Client) armLiveness(after time.Duration) {
	if client.config.HeartbeatTimeout <= 0 {
		return
	}
	client.stopLiveness()
	generation := client.generation
	client.livenessTimer = time.AfterFunc(after, func() {
		client.post(livenessEvent{generation: generation})
	})
}

func (client *Client) stopLiveness() {
	if client.livenessTimer != nil {
		client.livenessTimer.Stop()
		client.livenessTimer = nil
	}
}

func (client *Client) checkLiveness() {
	timeout := client.config.HeartbeatTimeout
	idle := time.Since(client.lastInbound)
	if idle < timeout {
		client.armLiveness(timeout - idle)
		return
	}
	client.onTransportFault(NewError(TimedOutError, fmt.Sprintf("no inbound traffic for %s", idle.Round(time.Millisecond))))
}

func (client *Client) onTransportFault(err error) {
	switch client.state {
	case StateDisconnected, StateReconnecting, StateFailed:
		return
	}
	client.logger.Warn("transport fault", "error", err, "state", client.state)

	client.teardown()
	if cmd := client.pipe.settle(); cmd != nil {
		client.finish(cmd, commandResult{Err: NewError(ConnectionError, "connection lost before response", err)})
	}
	client.chooser.ReportFailure(err)

	if !client.config.AutoReconnect {
		client.fail(NewError(ConnectionError, "auto reconnect disabled", err))
		return
	}

	client.reconnectAttempts++
	maxAttempts := client.config.Reconnect.MaxAttempts
	if maxAttempts > 0 && client.reconnectAttempts > maxAttempts {
		client.fail(NewError(RetryOperationError, fmt.Sprintf("gave up after %d reconnect attempts", maxAttempts), err))
		return
	}

	delay := client.strategy.ConnectWaitDuration(client.reconnectAttempts)
	client.setState(StateReconnecting)
	client.metrics.recordReconnect()
	client.logger.Info("reconnect scheduled", "attempt", client.reconnectAttempts, "delay", delay)

	generation := client.generation
	client.reconnectTimer = time.AfterFunc(delay, func() {
		client.post(reconnectDueEvent{generation: generation})
	})
}

// teardown releases the current transport. Events from its goroutines carry
// the old generation and are ignored afterwards.
func (client *Client) teardown() {
	client.generation++
	if client.cancelDial != nil {
		client.cancelDial()
		client.cancelDial = nil
	}
	if client.connection != nil {
		_ = client.connection.Close()
		client.connection = nil
	}
	if client.writes != nil {
		close(client.writes)
		client.writes = nil
	}
	client.out.reset()
	client.stopCommandTimer()
	client.stopLiveness()
	if client.reconnectTimer != nil {
		client.reconnectTimer.Stop()
		client.reconnectTimer = nil
	}
	client.setClientID("")
}

// fail moves the client to Failed. Nothing is retried afterwards.
func (client *Client) fail(err error) {
	client.teardown()
	client.lock.Lock()
	client.failure = err
	client.lock.Unlock()

	client.setState(StateFailed)
	client.logger.Error("client failed", "error", err)
	client.abandon(NewError(DisconnectedError, "client failed", err))
	client.reportError(err)
}

func (client *Client) shutdown() {
	client.teardown()
	client.abandon(NewError(DisconnectedError, "client closed"))
	client.consumer = nil
	client.consumerQueue = ""
	client.setState(StateDisconnected)
	client.logger.Info("client closed")
}

// abandon fails every pending command, in-flight first.
func (client *Client) abandon(err error) {
	for _, cmd := range client.pipe.drain() {
		client.finish(cmd, commandResult{Err: err})
	}

	client.lock.Lock()
	queued := client.inbox
	client.inbox = nil
	client.lock.Unlock()
	for _, cmd := range queued {
		client.finish(cmd, commandResult{Err: err})
	}
}

func (client *Client) reportError(err error) {
	client.lock.Lock()
	errorHandler := client.errorHandler
	client.lock.Unlock()
	if errorHandler != nil {
		client.invoke("error handler", func() { errorHandler(err) })
	}
}

func (client *Client) setClientID(clientID string) {
	client.lock.Lock()
	client.clientID = clientID
	client.lock.Unlock()
}

func (client *Client) setState(state ConnectionState) {
	client.lock.Lock()
	if client.state == state {
		client.lock.Unlock()
		return
	}
	previous := client.state
	client.state = state
	close(client.stateChanged)
	client.stateChanged = make(chan struct{})
	listeners := append([]ConnectionStateListener(nil), client.listeners...)
	client.lock.Unlock()

	client.metrics.recordState(state)
	client.logger.Debug("connection state changed", "from", previous, "to", state)
	for _, listener := range listeners {
		client.invoke("state listener", func() { listener.ConnectionStateChanged(state) })
	}
}
