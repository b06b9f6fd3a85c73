// Package bunny is a client driver for the bunnymq broker protocol.
//
// The primary lifecycle is:
//   - construct a Client with NewClient
//   - Connect, which dials, performs the handshake and authenticates
//   - declare queues, publish, consume and acknowledge
//   - Close when finished
//
// Commands may be issued before Connect returns. They are queued and sent
// one at a time once the session is authenticated; each command waits for
// the broker's reply before the next one is written. Consume is the
// exception: the pipeline advances as soon as the Subscribe frame is sent.
//
// When the transport fails the client reconnects with a linear backoff and
// gives up after Config.Reconnect.MaxAttempts attempts. The command awaiting
// a reply fails with a ConnectionError, queued commands are kept, and the
// registered consumer is subscribed again once the new session is ready.
// An authentication rejection is terminal.
//
// All callbacks run on the client's event loop goroutine. They may enqueue
// further commands with the Async methods but must not block.
//
// Errors are typed *Error values created with NewError and can be matched
// with errors.Is against ErrAuthentication, ErrConnection, ErrDisconnected,
// ErrProtocol, ErrRetryExhausted and ErrTimedOut.
package bunny
