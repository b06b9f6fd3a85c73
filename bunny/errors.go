package bunny

import (
	"errors"
	"fmt"
)

// Error codes reported by the driver.
const (
	AuthenticationError = iota

	CommandError

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	ProtocolError

	InvalidQueueError

	QueueDeclareError

	PublishError

	RetryOperationError

	TimedOutError

	UnknownError
)

// Decode sentinels. Both are reported as ProtocolError by the router.
var (
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrTruncatedFrame = errors.New("declared length exceeds frame")
)

// Error is a driver error carrying one of the error codes above.
type Error struct {
	Code    int
	Message string
	Err     error
}

func errorName(code int) string {
	switch code {
	case AuthenticationError:
		return "AuthenticationError"
	case CommandError:
		return "CommandError"
	case ConnectionError:
		return "ConnectionError"
	case ConnectionRefusedError:
		return "ConnectionRefusedError"
	case DisconnectedError:
		return "DisconnectedError"
	case ProtocolError:
		return "ProtocolError"
	case InvalidQueueError:
		return "InvalidQueueError"
	case QueueDeclareError:
		return "QueueDeclareError"
	case PublishError:
		return "PublishError"
	case RetryOperationError:
		return "RetryOperationError"
	case TimedOutError:
		return "TimedOutError"
	default:
		return "UnknownError"
	}
}

// Error implements error.
func (err *Error) Error() string {
	name := errorName(err.Code)
	switch {
	case err.Message != "" && err.Err != nil:
		return fmt.Sprintf("%s: %s: %v", name, err.Message, err.Err)
	case err.Message != "":
		return fmt.Sprintf("%s: %s", name, err.Message)
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", name, err.Err)
	}
	return name
}

// Unwrap returns the wrapped cause.
func (err *Error) Unwrap() error { return err.Err }

// Is matches another *Error with the same code.
func (err *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == err.Code && other.Message == "" && other.Err == nil
	}
	return false
}

// NewError builds an *Error. An error argument becomes the cause, anything
// else is formatted into the message.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	for _, part := range message {
		switch value := part.(type) {
		case error:
			err.Err = value
		case string:
			if err.Message == "" {
				err.Message = value
			} else {
				err.Message += ": " + value
			}
		default:
			if err.Message == "" {
				err.Message = fmt.Sprint(value)
			} else {
				err.Message += ": " + fmt.Sprint(value)
			}
		}
	}
	return err
}

// Code sentinels for errors.Is, e.g. errors.Is(err, bunny.ErrAuthentication).
var (
	ErrAuthentication = &Error{Code: AuthenticationError}
	ErrConnection     = &Error{Code: ConnectionError}
	ErrDisconnected   = &Error{Code: DisconnectedError}
	ErrProtocol       = &Error{Code: ProtocolError}
	ErrRetryExhausted = &Error{Code: RetryOperationError}
	ErrTimedOut       = &Error{Code: TimedOutError}
)

// CodeOf returns the code of a driver error, or UnknownError.
func CodeOf(err error) int {
	var driverErr *Error
	if errors.As(err, &driverErr) {
		return driverErr.Code
	}
	return UnknownError
}

// IsFatal reports whether err leaves the client unusable until it is recreated.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case AuthenticationError, RetryOperationError, DisconnectedError:
		return true
	}
	return false
}

// IsTransient reports whether err is a network fault the reconnect policy handles.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ConnectionError, ConnectionRefusedError, TimedOutError:
		return true
	}
	return false
}
