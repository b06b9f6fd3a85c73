package bunny

// outbox holds frames waiting for the transport. One frame at a time is
// handed to the connection's writer; the next is released when the writer
// reports the transport writable again.
type outbox struct {
	frames  [][]byte
	writing bool
}

func (box *outbox) push(frame []byte) {
	box.frames = append(box.frames, frame)
}

// next returns the head frame if the transport is writable.
func (box *outbox) next() []byte {
	if box.writing || len(box.frames) == 0 {
		return nil
	}
	frame := box.frames[0]
	box.frames[0] = nil
	box.frames = box.frames[1:]
	box.writing = true
	return frame
}

// writable marks the outstanding write as finished.
func (box *outbox) writable() {
	box.writing = false
}

// reset drops every queued frame. Frames belong to one connection: a
// handshake or client id from a dead transport is meaningless on the next.
func (box *outbox) reset() {
	box.frames = nil
	box.writing = false
}

func (box *outbox) pending() int {
	return len(box.frames)
}
