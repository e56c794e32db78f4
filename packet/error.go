package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/jcarswell/gotftpy"
)

// Error is an ERROR packet. ErrMsg is optional; receivers MUST tolerate a
// 4-byte ERROR with no message, per RFC 1350's ERROR format.
type Error struct {
	Code   tftp.ErrorCode
	ErrMsg string
}

// NewError builds an ERROR packet. An empty msg falls back to the code's
// standard RFC text at Encode time.
func NewError(code tftp.ErrorCode, msg string) *Error {
	return &Error{Code: code, ErrMsg: msg}
}

func (e *Error) Opcode() Opcode { return OpError }

func (e *Error) Error() string {
	return fmt.Sprintf("TFTP error %d: %s", uint16(e.Code), e.message())
}

func (e *Error) message() string {
	if e.ErrMsg != "" {
		return e.ErrMsg
	}
	return e.Code.Message()
}

func (e *Error) Encode() []byte {
	msg := e.message()
	buf := make([]byte, 4, 5+len(msg))
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpError))
	binary.BigEndian.PutUint16(buf[2:4], uint16(e.Code))
	buf = append(buf, msg...)
	buf = append(buf, 0)
	return buf
}

func decodeError(b []byte) (*Error, error) {
	if len(b) < 4 {
		return nil, tftp.NewError("packet.decodeError", tftp.KindProtocol, tftp.ErrIllegalOperation,
			fmt.Errorf("short ERROR packet: %d bytes", len(b)))
	}
	e := &Error{Code: tftp.ErrorCode(binary.BigEndian.Uint16(b[2:4]))}
	if len(b) > 4 {
		c := &cursor{b: b, pos: 4}
		msg, ok := c.nulString()
		if ok {
			e.ErrMsg = msg
		} else {
			// Tolerate a missing trailing NUL rather than reject the
			// whole packet: a peer that forgot the terminator still
			// conveyed a usable error message.
			e.ErrMsg = string(b[4:])
		}
	}
	return e, nil
}
