package broker

import (
	"bufio"
	"io"
	"sync"
)

const (
	writerDepth      = 4096
	writerBufferSize = 64 * 1024
)

// connWriter is the dedicated write goroutine of a session. On stream
// transports it drains every queued frame before flushing; on WebSocket
// each frame is written as its own message.
type connWriter struct {
	mu     sync.Mutex
	ch     chan []byte
	done   chan struct{}
	closed bool
}

func newConnWriter(conn io.Writer, coalesce bool) *connWriter {
	cw := &connWriter{
		ch:   make(chan []byte, writerDepth),
		done: make(chan struct{}),
	}
	if coalesce {
		go cw.runBuffered(conn)
	} else {
		go cw.runDirect(conn)
	}
	return cw
}

func (cw *connWriter) runBuffered(conn io.Writer) {
	defer close(cw.done)
	bw := bufio.NewWriterSize(conn, writerBufferSize)

	for frame := range cw.ch {
		_, _ = bw.Write(frame)

		// Drain what is already queued before flushing.
		for drained := false; !drained; {
			select {
			case next, ok := <-cw.ch:
				if !ok {
					_ = bw.Flush()
					return
				}
				_, _ = bw.Write(next)
			default:
				drained = true
			}
		}
		_ = bw.Flush()
	}
}

func (cw *connWriter) runDirect(conn io.Writer) {
	defer close(cw.done)
	for frame := range cw.ch {
		_, _ = conn.Write(frame)
	}
}

// send enqueues frame. It reports false when the writer is closed or full.
func (cw *connWriter) send(frame []byte) bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return false
	}
	select {
	case cw.ch <- frame:
		return true
	default:
		return false
	}
}

// close flushes queued frames and stops the goroutine.
func (cw *connWriter) close() {
	cw.mu.Lock()
	if !cw.closed {
		cw.closed = true
		close(cw.ch)
	}
	cw.mu.Unlock()
	<-cw.done
}
