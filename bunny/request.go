package bunny

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
)

// Request is a client frame as seen by a broker.
type Request struct {
	Opcode   Opcode
	Flags    byte
	Version  byte
	Primary  []byte
	Metadata []byte

	// Set for Authenticate frames.
	Username string
	Password string
	ClientID string
}

// PublishQueue returns the target queue of a Publish request.
func (request Request) PublishQueue() (string, error) {
	var metadata publishMetadata
	if err := json.Unmarshal(request.Metadata, &metadata); err != nil {
		return "", NewError(ProtocolError, "publish metadata", err)
	}
	return metadata.Queue, nil
}

// QueueConfig returns the options of a NewQueue request, or nil when the
// no-options flag is set.
func (request Request) QueueConfig() (*QueueConfig, error) {
	if request.Flags != FlagJSONEncoded {
		return nil, nil
	}
	config := new(QueueConfig)
	if err := json.Unmarshal(request.Metadata, config); err != nil {
		return nil, NewError(ProtocolError, "queue options", err)
	}
	return config, nil
}

// DecodeRequest cuts one client frame from chunk. Subscribe metadata and the
// Authenticate client id carry no length, so those frames take the rest of
// the chunk.
func DecodeRequest(chunk []byte) (Request, []byte, error) {
	if len(chunk) == 0 {
		return Request{}, chunk, NewError(ProtocolError, "empty request", ErrTruncatedFrame)
	}

	request := Request{Opcode: Opcode(int8(chunk[0]))}
	switch request.Opcode {
	case OpHeartbeat:
		return request, chunk[1:], nil

	case OpClientHandshake:
		if len(chunk) < 2 {
			return request, chunk, NewError(ProtocolError, "handshake without version", ErrTruncatedFrame)
		}
		request.Version = chunk[1]
		return request, chunk[2:], nil

	case OpAuthenticate:
		if len(chunk) < authenticateHeaderSize {
			return request, chunk, NewError(ProtocolError, "authenticate header", ErrTruncatedFrame)
		}
		length := binary.BigEndian.Uint32(chunk[1:authenticateHeaderSize])
		if uint64(length) > uint64(len(chunk)-authenticateHeaderSize) {
			return request, chunk, NewError(ProtocolError, "credential length", ErrTruncatedFrame)
		}
		end := authenticateHeaderSize + int(length)
		credentials := string(chunk[authenticateHeaderSize:end])
		request.Username, request.Password, _ = strings.Cut(credentials, ":")
		request.ClientID = string(chunk[end:])
		return request, nil, nil

	case OpNewQueue, OpPublish, OpSubscribe, OpAck:
		if len(chunk) < commandHeaderSize {
			return request, chunk, NewError(ProtocolError, "command header", ErrTruncatedFrame)
		}
		request.Flags = chunk[1]
		primary, err := lengthPrefixed(chunk)
		if err != nil {
			return request, chunk, err
		}
		request.Primary = primary
		rest := chunk[commandHeaderSize+len(primary):]

		switch request.Opcode {
		case OpNewQueue, OpPublish:
			size, err := jsonObjectSize(rest)
			if err != nil {
				return request, chunk, err
			}
			request.Metadata = rest[:size]
			return request, rest[size:], nil
		case OpSubscribe:
			request.Metadata = rest
			return request, nil, nil
		}
		return request, rest, nil
	}

	return request, chunk[1:], NewError(ProtocolError, "opcode "+request.Opcode.String(), ErrUnknownOpcode)
}

func jsonObjectSize(data []byte) (int, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		return 0, NewError(ProtocolError, "metadata", err)
	}
	return int(decoder.InputOffset()), nil
}
