// Package packet implements the TFTP wire-format codec: the six packet
// variants of RFC 1350 and RFC 2347, each with an Encode/Decode pair, and a
// factory that demultiplexes a raw datagram on its two-byte opcode.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/jcarswell/gotftpy"
)

// Opcode identifies a packet type on the wire.
type Opcode uint16

const (
	OpReadRQ    Opcode = 1
	OpWriteRQ   Opcode = 2
	OpData      Opcode = 3
	OpAck       Opcode = 4
	OpError     Opcode = 5
	OpOptionAck Opcode = 6
)

func (o Opcode) String() string {
	switch o {
	case OpReadRQ:
		return "RRQ"
	case OpWriteRQ:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	case OpOptionAck:
		return "OACK"
	default:
		return fmt.Sprintf("opcode(%d)", uint16(o))
	}
}

// Packet is the interface every decoded TFTP packet satisfies. Modeled as
// a tagged variant: a flat set of structs sharing one interface, not a
// class hierarchy with virtual encode/decode methods.
type Packet interface {
	Opcode() Opcode
	Encode() []byte
}

// Decode parses a raw datagram into the Packet variant its opcode selects.
// Unknown opcodes are reported as a *tftp.Error with Kind KindProtocol, for
// the caller to translate into an outgoing ERROR(4, ...).
func Decode(b []byte) (Packet, error) {
	const op = "packet.Decode"
	if len(b) < 2 {
		return nil, tftp.NewError(op, tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("short packet: %d bytes", len(b)))
	}
	switch Opcode(binary.BigEndian.Uint16(b[:2])) {
	case OpReadRQ:
		return decodeRequest(OpReadRQ, b)
	case OpWriteRQ:
		return decodeRequest(OpWriteRQ, b)
	case OpData:
		return decodeData(b)
	case OpAck:
		return decodeAck(b)
	case OpError:
		return decodeError(b)
	case OpOptionAck:
		return decodeOptionAck(b)
	default:
		return nil, tftp.NewError(op, tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("unsupported opcode %d", binary.BigEndian.Uint16(b[:2])))
	}
}

// cursor walks a NUL-delimited byte slice the way the wire format requires:
// a sequence of ASCII strings each terminated by a single 0x00 byte.
// Grounded on the option/filename scanning loop in
// _examples/jochenvg-go.tftp/tftp.go and the struct-format-building loop in
// original_source/tftpy/packet/types/base.py's decode_options.
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) nulString() (string, bool) {
	if c.pos >= len(c.b) {
		return "", false
	}
	idx := -1
	for i := c.pos; i < len(c.b); i++ {
		if c.b[i] == 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", false
	}
	s := string(c.b[c.pos:idx])
	c.pos = idx + 1
	return s, true
}

func (c *cursor) done() bool { return c.pos >= len(c.b) }

// decodeOptions reads zero or more name/value pairs until the buffer is
// exhausted, lowercasing names per RFC 2347's case-insensitive option names.
func decodeOptions(c *cursor) (map[string]string, error) {
	opts := map[string]string{}
	for !c.done() {
		name, ok := c.nulString()
		if !ok {
			return nil, fmt.Errorf("truncated option name")
		}
		value, ok := c.nulString()
		if !ok {
			return nil, fmt.Errorf("truncated option value for %q", name)
		}
		opts[lower(name)] = value
	}
	return opts, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func writeOptions(buf []byte, opts map[string]string, order []string) []byte {
	for _, k := range order {
		v, ok := opts[k]
		if !ok {
			continue
		}
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	return buf
}

// OptionOrder returns the keys of opts in a stable, deterministic order so
// repeated Encode calls produce identical bytes; insertion order is not
// preserved by Go maps, so callers that need client-sent ordering should
// pass an explicit order (see Request.OptionsOrder).
func OptionOrder(opts map[string]string) []string {
	order := make([]string, 0, len(opts))
	for k := range opts {
		order = append(order, k)
	}
	// Simple insertion sort: option maps are tiny (blksize, tsize, ...),
	// so this avoids pulling in sort for a handful of elements while
	// staying deterministic.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	return order
}
