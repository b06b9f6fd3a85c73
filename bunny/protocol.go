package bunny

// Opcode is the 1-byte signed tag at offset 0 of every frame.
type Opcode int8

// Opcodes received from the broker.
const (
	OpHeartbeat     Opcode = -1
	OpHandshake     Opcode = -7
	OpAuthenticated Opcode = -8
	OpMessage       Opcode = 1
	OpFailure       Opcode = 126
	OpSuccess       Opcode = 127
)

// Opcodes sent by the client.
const (
	OpPublish         Opcode = 0x3
	OpAck             Opcode = 0x4
	OpNewQueue        Opcode = 0x6
	OpSubscribe       Opcode = 0x7
	OpAuthenticate    Opcode = 0x7A
	OpClientHandshake Opcode = 0x7B
)

// Flags byte values for command frames.
const (
	FlagNoOptions   byte = 0x00
	FlagJSONEncoded byte = 0x01
)

// ProtocolVersion is sent in the handshake frame.
const ProtocolVersion byte = 1

// Header sizes.
const (
	commandHeaderSize      = 6
	authenticateHeaderSize = 5
	lengthFieldOffset      = 2

	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 16 << 20
)

// Authentication status values carried by an Authenticated packet.
const (
	AuthStatusOK     = 200
	AuthStatusDenied = 404
)

// ResultCode is the broker's reply to a correlated command.
type ResultCode int8

// Result codes. The broker reuses the generic failure code to report that a
// declared queue already exists.
const (
	ResultFailure      ResultCode = ResultCode(OpFailure)
	ResultAlreadyExist ResultCode = ResultCode(OpFailure)
	ResultSuccess      ResultCode = ResultCode(OpSuccess)
)

// String returns a readable opcode name.
func (op Opcode) String() string {
	switch op {
	case OpHeartbeat:
		return "heartbeat"
	case OpHandshake:
		return "handshake"
	case OpAuthenticated:
		return "authenticated"
	case OpMessage:
		return "message"
	case OpFailure:
		return "failure"
	case OpSuccess:
		return "success"
	case OpPublish:
		return "publish"
	case OpAck:
		return "ack"
	case OpNewQueue:
		return "new_queue"
	case OpSubscribe:
		return "subscribe"
	case OpAuthenticate:
		return "authenticate"
	case OpClientHandshake:
		return "client_handshake"
	default:
		return "unknown"
	}
}

// Byte returns the opcode as it appears on the wire.
func (op Opcode) Byte() byte { return byte(op) }
