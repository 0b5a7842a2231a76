// Package socketio implements the client side of the socket.io v5 protocol
// over an Engine.IO v4 WebSocket transport.
//
// Only the default namespace and text payloads are supported. Binary
// attachments are ignored.
package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO packet types, as the first byte of every WebSocket text frame.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// PacketType is a socket.io packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return fmt.Sprintf("PacketType(%q)", byte(t))
	}
}

var errMalformedPacket = errors.New("malformed socket.io packet")

// Packet is one decoded socket.io packet.
type Packet struct {
	Type PacketType
	// Namespace is empty for the default namespace.
	Namespace string
	// ID is the acknowledgement id, or nil when none is requested.
	ID   *uint64
	Data json.RawMessage
}

// Encode returns the Engine.IO message frame ("4" prefix included).
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.FormatUint(*p.ID, 10))
	}
	b.Write(p.Data)
	return b.String()
}

// DecodePacket parses the socket.io portion of an Engine.IO message frame,
// i.e. the frame without its leading "4".
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errMalformedPacket
	}
	p := Packet{Type: PacketType(s[0])}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("%w: unknown type %q", errMalformedPacket, s[0])
	}
	rest := s[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		// Attachment count precedes the namespace.
		i := strings.IndexByte(rest, '-')
		if i < 0 {
			return Packet{}, fmt.Errorf("%w: missing attachment count", errMalformedPacket)
		}
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, "/") {
		i := strings.IndexByte(rest, ',')
		if i < 0 {
			p.Namespace = rest
			rest = ""
		} else {
			p.Namespace = rest[:i]
			rest = rest[i+1:]
		}
	}

	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.ParseUint(rest[:n], 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", errMalformedPacket, err)
		}
		p.ID = &id
		rest = rest[n:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("%w: invalid json payload", errMalformedPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EventPacket builds an EVENT packet for name with args encoded as JSON.
func EventPacket(name string, id *uint64, args ...any) (Packet, error) {
	data, err := encodeArgs(append([]any{name}, args...))
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketEvent, ID: id, Data: data}, nil
}

// AckPacket builds an ACK packet answering id.
func AckPacket(id uint64, args ...any) (Packet, error) {
	data, err := encodeArgs(args)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketAck, ID: &id, Data: data}, nil
}

func encodeArgs(args []any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode socket.io payload: %w", err)
	}
	return data, nil
}

// EventName splits an EVENT payload into its name and arguments.
func (p Packet) EventName() (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil {
		return "", nil, fmt.Errorf("%w: event payload: %v", errMalformedPacket, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: empty event payload", errMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", errMalformedPacket, err)
	}
	return name, parts[1:], nil
}

// Args returns the ACK payload elements.
func (p Packet) Args() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil {
		return nil, fmt.Errorf("%w: ack payload: %v", errMalformedPacket, err)
	}
	return parts, nil
}

// openPayload is the Engine.IO handshake sent by the server in the open packet.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// OpenFrame returns the Engine.IO open frame a server sends on a new
// transport. It is exported for relay implementations and tests.
func OpenFrame(sid string, pingIntervalMS, pingTimeoutMS int64) string {
	data, _ := json.Marshal(openPayload{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: pingIntervalMS,
		PingTimeout:  pingTimeoutMS,
		MaxPayload:   1000000,
	})
	return string(engineOpen) + string(data)
}

// Frame types exported for relay implementations.
const (
	PingFrame  = string(enginePing)
	PongFrame  = string(enginePong)
	CloseFrame = string(engineClose)
)
