package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/jcarswell/gotftpy"
)

// Data is a DATA packet. A payload shorter than the session's negotiated
// block size signals end of transfer, per RFC 1350.
type Data struct {
	BlockNumber uint16
	Payload     []byte
}

func NewData(block uint16, payload []byte) *Data {
	return &Data{BlockNumber: block, Payload: payload}
}

func (d *Data) Opcode() Opcode { return OpData }

func (d *Data) Encode() []byte {
	buf := make([]byte, 4+len(d.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpData))
	binary.BigEndian.PutUint16(buf[2:4], d.BlockNumber)
	copy(buf[4:], d.Payload)
	return buf
}

func decodeData(b []byte) (*Data, error) {
	if len(b) < 4 {
		return nil, tftp.NewError("packet.decodeData", tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("short DATA packet: %d bytes", len(b)))
	}
	d := &Data{BlockNumber: binary.BigEndian.Uint16(b[2:4])}
	if len(b) > 4 {
		d.Payload = append([]byte(nil), b[4:]...)
	}
	return d, nil
}
