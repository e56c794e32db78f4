package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/jcarswell/gotftpy"
)

// Request is a ReadRQ or WriteRQ packet; the two share every field and
// differ only in opcode, matching the wire format and the base-class
// sharing original_source/tftpy/packet/types/base.py uses for the same
// reason (design-notes: share via a free function, not a class hierarchy).
type Request struct {
	op       Opcode
	Filename string
	Mode     tftp.Mode
	Options  map[string]string
	// OptionsOrder preserves client-sent order for encoding. If nil, Encode
	// falls back to a deterministic sorted order.
	OptionsOrder []string
}

// NewReadRQ constructs a ReadRQ packet.
func NewReadRQ(filename string, mode tftp.Mode, opts map[string]string, order []string) *Request {
	return &Request{op: OpReadRQ, Filename: filename, Mode: mode, Options: opts, OptionsOrder: order}
}

// NewWriteRQ constructs a WriteRQ packet.
func NewWriteRQ(filename string, mode tftp.Mode, opts map[string]string, order []string) *Request {
	return &Request{op: OpWriteRQ, Filename: filename, Mode: mode, Options: opts, OptionsOrder: order}
}

func (r *Request) Opcode() Opcode { return r.op }

func (r *Request) Encode() []byte {
	buf := make([]byte, 2, 16+len(r.Filename))
	binary.BigEndian.PutUint16(buf, uint16(r.op))
	buf = append(buf, r.Filename...)
	buf = append(buf, 0)
	buf = append(buf, string(r.Mode)...)
	buf = append(buf, 0)

	order := r.OptionsOrder
	if order == nil {
		order = OptionOrder(r.Options)
	}
	return writeOptions(buf, r.Options, order)
}

func decodeRequest(op Opcode, b []byte) (*Request, error) {
	const errOp = "packet.decodeRequest"
	c := &cursor{b: b, pos: 2}

	filename, ok := c.nulString()
	if !ok || filename == "" {
		return nil, tftp.NewError(errOp, tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("missing filename"))
	}
	mode, ok := c.nulString()
	if !ok || mode == "" {
		return nil, tftp.NewError(errOp, tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("missing mode"))
	}

	opts, err := decodeOptions(c)
	if err != nil {
		return nil, tftp.NewError(errOp, tftp.KindProtocol, tftp.ErrIllegalOperation, err)
	}

	// Wire order doesn't matter once decoded; OptionOrder gives callers a
	// deterministic view for logging and re-encoding.
	order := OptionOrder(opts)

	return &Request{
		op:           op,
		Filename:     filename,
		Mode:         tftp.Mode(lower(mode)),
		Options:      opts,
		OptionsOrder: order,
	}, nil
}
