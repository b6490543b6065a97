package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hypebeast/go-osc/osc"
)

// ArgType is a single OSC type tag character.
type ArgType string

// Supported argument type tags
const (
	TypeInt32   ArgType = "i"
	TypeFloat32 ArgType = "f"
	TypeString  ArgType = "s"
	TypeBlob    ArgType = "b"
)

// Packet structure constants
const (
	AddressPrefix = '/'
	BundlePrefix  = '#'
	TypeTagPrefix = ','
	Alignment     = 4
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("osc decode error")

// DecodeError reports a datagram that could not be decoded into a Message.
// Raw holds a copy of the offending bytes for diagnostics.
type DecodeError struct {
	Raw    []byte
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode OSC packet (%d bytes): %s: %v", len(e.Raw), e.Reason, e.Err)
	}
	return fmt.Sprintf("decode OSC packet (%d bytes): %s", len(e.Raw), e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports ErrDecode as a match so callers need not use errors.As.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Preview returns at most n raw bytes hex-encoded, for log lines.
func (e *DecodeError) Preview(n int) string {
	if len(e.Raw) <= n {
		return hex.EncodeToString(e.Raw)
	}
	return hex.EncodeToString(e.Raw[:n]) + "..."
}

// Arg is a single typed OSC argument. Value holds int32, float32, string or
// []byte according to Type.
type Arg struct {
	Type  ArgType `json:"type"`
	Value any     `json:"value"`
}

// Int builds an int32 argument.
func Int(v int32) Arg { return Arg{Type: TypeInt32, Value: v} }

// Float builds a float32 argument.
func Float(v float32) Arg { return Arg{Type: TypeFloat32, Value: v} }

// String builds a string argument.
func String(v string) Arg { return Arg{Type: TypeString, Value: v} }

// Blob builds a blob argument. The slice is copied.
func Blob(v []byte) Arg { return Arg{Type: TypeBlob, Value: append([]byte{}, v...)} }

// Message is a decoded OSC message: an address pattern and its arguments.
// Messages are treated as immutable once built.
type Message struct {
	Address string `json:"address"`
	Args    []Arg  `json:"args"`
}

// NewMessage builds a message from an address and arguments.
func NewMessage(address string, args ...Arg) *Message {
	return &Message{Address: address, Args: append([]Arg{}, args...)}
}

// Values returns the bare argument values in order.
func (m *Message) Values() []any {
	values := make([]any, len(m.Args))
	for i, a := range m.Args {
		values[i] = a.Value
	}
	return values
}

// TypeTags returns the OSC type tag string, e.g. ",ifs".
func (m *Message) TypeTags() string {
	var sb strings.Builder
	sb.WriteByte(TypeTagPrefix)
	for _, a := range m.Args {
		sb.WriteString(string(a.Type))
	}
	return sb.String()
}

// String returns a human-readable representation of the message
func (m *Message) String() string {
	parts := make([]string, len(m.Args))
	for i, a := range m.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("Message{Address:%s, Args:[%s]}", m.Address, strings.Join(parts, " "))
}

// String returns a human-readable representation of the argument
func (a Arg) String() string {
	if b, ok := a.Value.([]byte); ok {
		return fmt.Sprintf("%s:0x%s", a.Type, hex.EncodeToString(b))
	}
	return fmt.Sprintf("%s:%v", a.Type, a.Value)
}

// Validate checks that data is one structurally well-formed OSC message
// whose arguments all use supported type tags.
func Validate(data []byte) error {
	_, err := parse(data)
	return err
}

// Decode parses one datagram into a Message. Any structural problem or
// unsupported argument type rejects the whole packet with a *DecodeError.
func Decode(data []byte) (*Message, error) {
	msg, err := parse(data)
	if err != nil {
		return nil, newDecodeError(data, "malformed packet", err)
	}
	return msg, nil
}

// parse walks the packet once, checking its layout and extracting the
// arguments. Strings must be valid UTF-8 so they survive the wire form.
func parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.New("empty packet")
	}

	switch data[0] {
	case AddressPrefix:
	case BundlePrefix:
		return nil, errors.New("bundles are not supported")
	default:
		return nil, fmt.Errorf("invalid address prefix: 0x%02x", data[0])
	}

	if len(data)%Alignment != 0 {
		return nil, fmt.Errorf("packet length %d is not a multiple of %d", len(data), Alignment)
	}

	address, offset, err := readPaddedString(data, 0)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	if !utf8.ValidString(address) {
		return nil, errors.New("address is not valid UTF-8")
	}

	if offset >= len(data) {
		return nil, errors.New("missing type tag string")
	}

	tags, offset, err := readPaddedString(data, offset)
	if err != nil {
		return nil, fmt.Errorf("type tags: %w", err)
	}
	if len(tags) == 0 || tags[0] != TypeTagPrefix {
		return nil, fmt.Errorf("type tag string must start with ',', got %q", tags)
	}

	msg := &Message{Address: address, Args: make([]Arg, 0, len(tags)-1)}
	for i := 1; i < len(tags); i++ {
		tag := ArgType(tags[i : i+1])
		switch tag {
		case TypeInt32, TypeFloat32:
			if offset+4 > len(data) {
				return nil, fmt.Errorf("argument %d (%s): truncated", i-1, tag)
			}
			bits := binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
			if tag == TypeInt32 {
				msg.Args = append(msg.Args, Int(int32(bits)))
			} else {
				msg.Args = append(msg.Args, Float(math.Float32frombits(bits)))
			}

		case TypeString:
			var value string
			if value, offset, err = readPaddedString(data, offset); err != nil {
				return nil, fmt.Errorf("argument %d (%s): %w", i-1, tag, err)
			}
			if !utf8.ValidString(value) {
				return nil, fmt.Errorf("argument %d (%s): invalid UTF-8", i-1, tag)
			}
			msg.Args = append(msg.Args, String(value))

		case TypeBlob:
			if offset+4 > len(data) {
				return nil, fmt.Errorf("argument %d (%s): truncated length", i-1, tag)
			}
			size := int32(binary.BigEndian.Uint32(data[offset : offset+4]))
			offset += 4
			if size < 0 || int(size) > len(data)-offset {
				return nil, fmt.Errorf("argument %d (%s): invalid blob size %d", i-1, tag, size)
			}
			msg.Args = append(msg.Args, Blob(data[offset:offset+int(size)]))
			offset += align(int(size))
			if offset > len(data) {
				return nil, fmt.Errorf("argument %d (%s): blob padding truncated", i-1, tag)
			}

		default:
			return nil, fmt.Errorf("unsupported type tag %q", tags[i])
		}
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after arguments", len(data)-offset)
	}

	return msg, nil
}

// OSC converts the message into its go-osc representation.
func (m *Message) OSC() (*osc.Message, error) {
	values := make([]interface{}, 0, len(m.Args))
	for i, a := range m.Args {
		if err := a.check(); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values = append(values, a.Value)
	}
	return osc.NewMessage(m.Address, values...), nil
}

// Encode serializes the message into OSC binary form.
func Encode(m *Message) ([]byte, error) {
	if !strings.HasPrefix(m.Address, string(AddressPrefix)) {
		return nil, fmt.Errorf("invalid address %q: must start with '/'", m.Address)
	}

	packet, err := m.OSC()
	if err != nil {
		return nil, err
	}

	data, err := packet.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OSC message: %w", err)
	}
	return data, nil
}

// check verifies that Value holds the Go type Type calls for.
func (a Arg) check() error {
	var ok bool
	switch a.Type {
	case TypeInt32:
		_, ok = a.Value.(int32)
	case TypeFloat32:
		_, ok = a.Value.(float32)
	case TypeString:
		_, ok = a.Value.(string)
	case TypeBlob:
		_, ok = a.Value.([]byte)
	default:
		return fmt.Errorf("unsupported type tag %q", a.Type)
	}
	if !ok {
		return fmt.Errorf("type tag %q does not match value of type %T", a.Type, a.Value)
	}
	return nil
}

func newDecodeError(data []byte, reason string, err error) *DecodeError {
	raw := make([]byte, len(data))
	copy(raw, data)
	return &DecodeError{Raw: raw, Reason: reason, Err: err}
}

// readPaddedString reads a NUL-terminated string starting at offset and
// returns it with the offset of the next 4-byte aligned field.
func readPaddedString(data []byte, offset int) (string, int, error) {
	end := bytes.IndexByte(data[offset:], 0)
	if end < 0 {
		return "", offset, errors.New("missing NUL terminator")
	}

	next := offset + align(end+1)
	if next > len(data) {
		return "", offset, errors.New("string padding truncated")
	}
	return string(data[offset : offset+end]), next, nil
}

func align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
