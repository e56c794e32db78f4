package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/jcarswell/gotftpy"
)

// Ack is an ACK packet.
type Ack struct {
	BlockNumber uint16
}

func NewAck(block uint16) *Ack { return &Ack{BlockNumber: block} }

func (a *Ack) Opcode() Opcode { return OpAck }

func (a *Ack) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpAck))
	binary.BigEndian.PutUint16(buf[2:4], a.BlockNumber)
	return buf
}

// decodeAck tolerates an over-long ACK by reading only the first 4 bytes.
func decodeAck(b []byte) (*Ack, error) {
	if len(b) < 4 {
		return nil, tftp.NewError("packet.decodeAck", tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("short ACK packet: %d bytes", len(b)))
	}
	return &Ack{BlockNumber: binary.BigEndian.Uint16(b[2:4])}, nil
}
