package bunny

import (
	"fmt"
	"time"
)

// CommandKind identifies a pipelined operation.
type CommandKind int

// Command kinds.
const (
	CommandQueueDeclare CommandKind = iota + 1
	CommandPublish
	CommandConsume
	CommandAck
)

// String returns the kind name used in logs and metrics.
func (kind CommandKind) String() string {
	switch kind {
	case CommandQueueDeclare:
		return "queue_declare"
	case CommandPublish:
		return "publish"
	case CommandConsume:
		return "consume"
	case CommandAck:
		return "ack"
	default:
		return "unknown"
	}
}

type commandResult struct {
	Code     ResultCode
	Message  string
	Accepted bool
	Err      error
}

// command is owned by the pipeline from enqueue until complete runs.
type command struct {
	kind    CommandKind
	queue   string
	payload []byte
	options QueueOptions
	handler func([]byte)

	// resubscribe marks the internal Consume re-issued after a reconnect.
	resubscribe bool

	done       func(commandResult)
	completed  bool
	enqueuedAt time.Time
	sentAt     time.Time
}

func (cmd *command) complete(result commandResult) {
	if cmd.completed {
		return
	}
	cmd.completed = true
	if cmd.done != nil {
		cmd.done(result)
	}
}

func (cmd *command) fail(err error) {
	cmd.complete(commandResult{Err: err})
}

// encode builds the command's frame. clientID is the one issued by the
// current connection's handshake.
func (cmd *command) encode(clientID string) ([]byte, error) {
	switch cmd.kind {
	case CommandQueueDeclare:
		return EncodeQueueDeclare(cmd.options)
	case CommandPublish:
		return EncodePublish(cmd.queue, cmd.payload)
	case CommandConsume:
		return EncodeSubscribe(clientID, cmd.queue), nil
	case CommandAck:
		return EncodeAck(clientID), nil
	}
	return nil, NewError(CommandError, "unknown command kind")
}

// awaitsResponse reports whether the command occupies the in-flight slot
// until a Response packet arrives.
func (cmd *command) awaitsResponse() bool {
	return cmd.kind != CommandConsume
}

// resolve maps the broker's result code onto the command's result.
func (cmd *command) resolve(code ResultCode) commandResult {
	switch cmd.kind {
	case CommandQueueDeclare:
		if code == ResultSuccess || code == ResultAlreadyExist {
			return commandResult{Code: code, Accepted: true}
		}
		return commandResult{Code: code, Err: NewError(QueueDeclareError, fmt.Sprintf("queue %q rejected with code %d", cmd.options.Name, code))}

	case CommandPublish:
		if code == ResultFailure {
			return commandResult{Code: code, Err: NewError(PublishError, fmt.Sprintf("could not put message %s", cmd.payload))}
		}
		return commandResult{Code: code, Accepted: true, Message: fmt.Sprintf("success :%d message: %s", code, cmd.payload)}

	case CommandAck:
		return commandResult{Code: code, Accepted: code == ResultSuccess}
	}
	return commandResult{Code: code, Accepted: code == ResultSuccess}
}
