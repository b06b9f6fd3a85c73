package bunny

import (
	"encoding/binary"
	"strconv"
)

// Packet is a decoded broker frame. The set of implementations is closed:
// Heartbeat, Handshake, Authenticated, Response and Message.
type Packet interface {
	Opcode() Opcode
	packet()
}

// Heartbeat is a liveness probe. The client answers with one heartbeat frame.
type Heartbeat struct{}

// Handshake carries the client id assigned by the broker.
type Handshake struct {
	ID string
}

// Authenticated reports the outcome of the Authenticate frame.
type Authenticated struct {
	Status       int
	ErrorMessage string
}

// Response is the correlated reply to the in-flight command.
type Response struct {
	Code ResultCode
}

// Message is a broker-pushed delivery for the registered consumer.
type Message struct {
	Body []byte
}

func (Heartbeat) Opcode() Opcode     { return OpHeartbeat }
func (Handshake) Opcode() Opcode     { return OpHandshake }
func (Authenticated) Opcode() Opcode { return OpAuthenticated }
func (packet Response) Opcode() Opcode {
	return Opcode(packet.Code)
}
func (Message) Opcode() Opcode { return OpMessage }

func (Heartbeat) packet()     {}
func (Handshake) packet()     {}
func (Authenticated) packet() {}
func (Response) packet()      {}
func (Message) packet()       {}

// OK reports whether authentication succeeded.
func (packet Authenticated) OK() bool { return packet.Status == AuthStatusOK }

// DecodePacket decodes exactly one frame. Unknown opcodes return
// ErrUnknownOpcode and lengths running past the frame return
// ErrTruncatedFrame; neither is fatal to the connection.
func DecodePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return nil, NewError(ProtocolError, "empty frame", ErrTruncatedFrame)
	}

	switch op := Opcode(int8(frame[0])); op {
	case OpHeartbeat:
		return Heartbeat{}, nil

	case OpHandshake:
		return Handshake{ID: string(frame[1:])}, nil

	case OpAuthenticated:
		if len(frame) < 2 {
			return nil, NewError(ProtocolError, "authenticated frame without flag", ErrTruncatedFrame)
		}
		if frame[1] == 1 {
			return Authenticated{Status: AuthStatusOK}, nil
		}
		body, err := lengthPrefixed(frame)
		if err != nil {
			return nil, err
		}
		return Authenticated{Status: AuthStatusDenied, ErrorMessage: string(body)}, nil

	case OpFailure, OpSuccess:
		return Response{Code: ResultCode(op)}, nil

	case OpMessage:
		body, err := lengthPrefixed(frame)
		if err != nil {
			return nil, err
		}
		return Message{Body: append([]byte(nil), body...)}, nil

	default:
		return nil, NewError(ProtocolError, "opcode "+strconv.Itoa(int(op)), ErrUnknownOpcode)
	}
}

func lengthPrefixed(frame []byte) ([]byte, error) {
	if len(frame) < commandHeaderSize {
		return nil, NewError(ProtocolError, "missing length field", ErrTruncatedFrame)
	}
	length := binary.BigEndian.Uint32(frame[lengthFieldOffset:commandHeaderSize])
	if uint64(length) > uint64(len(frame)-commandHeaderSize) {
		return nil, NewError(ProtocolError, "length "+strconv.FormatUint(uint64(length), 10), ErrTruncatedFrame)
	}
	return frame[commandHeaderSize : commandHeaderSize+int(length)], nil
}

// SplitFrame cuts the first complete frame from buf. ok is false when more
// bytes are needed. A handshake frame has no length field and takes the rest
// of buf. Unknown opcodes are returned as one-byte frames so the decoder can
// report and skip them.
func SplitFrame(buf []byte) (frame []byte, rest []byte, ok bool) {
	size, known := frameSize(buf)
	if !known || size > len(buf) {
		return nil, buf, false
	}
	return buf[:size], buf[size:], true
}

// frameSize returns the size of the frame starting at buf[0], if the bytes
// present are enough to know it.
func frameSize(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}

	switch Opcode(int8(buf[0])) {
	case OpHandshake:
		return len(buf), true

	case OpAuthenticated:
		if len(buf) < 2 {
			return 0, false
		}
		if buf[1] == 1 {
			return 2, true
		}
		return lengthPrefixedSize(buf)

	case OpMessage:
		return lengthPrefixedSize(buf)
	}
	return 1, true
}

func lengthPrefixedSize(buf []byte) (int, bool) {
	if len(buf) < commandHeaderSize {
		return 0, false
	}
	length := uint64(binary.BigEndian.Uint32(buf[lengthFieldOffset:commandHeaderSize]))
	if length > maxFrameSize {
		return maxFrameSize + 1, true
	}
	return commandHeaderSize + int(length), true
}
