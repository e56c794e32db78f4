package packet_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/packet"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  packet.Packet
	}{
		{"read request, no options", packet.NewReadRQ("boot.img", tftp.ModeOctet, map[string]string{}, nil)},
		{"write request, with options", packet.NewWriteRQ("boot.img", tftp.ModeOctet,
			map[string]string{"blksize": "1024", "tsize": "0"}, []string{"blksize", "tsize"})},
		{"data, full block", packet.NewData(1, make([]byte, 512))},
		{"data, short block (EOF)", packet.NewData(42, []byte("tail"))},
		{"data, empty block", packet.NewData(7, nil)},
		{"ack, block zero", packet.NewAck(0)},
		{"ack, max block", packet.NewAck(65535)},
		{"error, standard message", packet.NewError(tftp.ErrFileNotFound, "")},
		{"error, custom message", packet.NewError(tftp.ErrAccessViolation, "go away")},
		{"option ack", packet.NewOptionAck(map[string]string{"blksize": "1024"}, []string{"blksize"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := packet.Decode(tc.pkt.Encode())
			require.NoError(t, err)
			require.Equal(t, tc.pkt.Opcode(), decoded.Opcode())

			switch want := tc.pkt.(type) {
			case *packet.Request:
				got, ok := decoded.(*packet.Request)
				require.True(t, ok)
				require.Equal(t, want.Filename, got.Filename)
				require.Equal(t, want.Mode, got.Mode)
				if diff := cmp.Diff(want.Options, got.Options); diff != "" {
					t.Errorf("options mismatch (-want +got):\n%s", diff)
				}
			case *packet.Data:
				got, ok := decoded.(*packet.Data)
				require.True(t, ok)
				require.Equal(t, want.BlockNumber, got.BlockNumber)
				require.Equal(t, len(want.Payload), len(got.Payload))
			case *packet.Ack:
				got, ok := decoded.(*packet.Ack)
				require.True(t, ok)
				require.Equal(t, want.BlockNumber, got.BlockNumber)
			case *packet.Error:
				got, ok := decoded.(*packet.Error)
				require.True(t, ok)
				require.Equal(t, want.Code, got.Code)
			case *packet.OptionAck:
				got, ok := decoded.(*packet.OptionAck)
				require.True(t, ok)
				if diff := cmp.Diff(want.Options, got.Options); diff != "" {
					t.Errorf("options mismatch (-want +got):\n%s", diff)
				}
			default:
				t.Fatalf("unhandled packet type %T", tc.pkt)
			}
		})
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := packet.Decode([]byte{0, 99})
	require.Error(t, err)
	var terr *tftp.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, tftp.KindProtocol, terr.Kind)
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := packet.Decode([]byte{0})
	require.Error(t, err)
}

func TestDecodeAckTolerateOverLong(t *testing.T) {
	// An ACK is always exactly opcode + block number; ignore trailing
	// bytes rather than rejecting the packet.
	raw := append(packet.NewAck(7).Encode(), 0xFF, 0xFF, 0xFF)
	decoded, err := packet.Decode(raw)
	require.NoError(t, err)
	ack, ok := decoded.(*packet.Ack)
	require.True(t, ok)
	require.EqualValues(t, 7, ack.BlockNumber)
}

func TestDecodeErrorTolerateNoMessage(t *testing.T) {
	raw := []byte{0, byte(packet.OpError), 0, byte(tftp.ErrFileNotFound)}
	decoded, err := packet.Decode(raw)
	require.NoError(t, err)
	errPkt, ok := decoded.(*packet.Error)
	require.True(t, ok)
	require.Equal(t, tftp.ErrFileNotFound, errPkt.Code)
	require.Empty(t, errPkt.ErrMsg)
}

func TestRequestOptionOrderPreservedOnEncode(t *testing.T) {
	req := packet.NewWriteRQ("f", tftp.ModeOctet,
		map[string]string{"tsize": "0", "blksize": "1024"}, []string{"tsize", "blksize"})
	encoded := req.Encode()
	require.Equal(t, []byte("\x00\x02f\x00octet\x00tsize\x000\x00blksize\x001024\x00"), encoded)
	decoded, err := packet.Decode(encoded)
	require.NoError(t, err)
	got := decoded.(*packet.Request)
	require.Equal(t, "0", got.Options["tsize"])
	require.Equal(t, "1024", got.Options["blksize"])
}
