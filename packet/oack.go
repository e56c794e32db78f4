package packet

import (
	"encoding/binary"
)

// OptionAck is an OACK packet, confirming negotiated options.
type OptionAck struct {
	Options map[string]string
	// OptionsOrder preserves the order the server wants the options
	// encoded in; nil falls back to a deterministic sorted order.
	OptionsOrder []string
}

func NewOptionAck(opts map[string]string, order []string) *OptionAck {
	return &OptionAck{Options: opts, OptionsOrder: order}
}

func (o *OptionAck) Opcode() Opcode { return OpOptionAck }

func (o *OptionAck) Encode() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(OpOptionAck))
	order := o.OptionsOrder
	if order == nil {
		order = OptionOrder(o.Options)
	}
	return writeOptions(buf, o.Options, order)
}

func decodeOptionAck(b []byte) (*OptionAck, error) {
	c := &cursor{b: b, pos: 2}
	opts, err := decodeOptions(c)
	if err != nil {
		return nil, err
	}
	return &OptionAck{Options: opts, OptionsOrder: OptionOrder(opts)}, nil
}
