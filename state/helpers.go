// Package state implements the per-transfer state machine: one struct per
// node, each handling exactly the packet types valid in that state and
// returning the state to move to next.
package state

import (
	"io"
	"time"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/options"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
)

// sendData reads one block from ctx.FileObj and transmits it, reporting
// whether this was the final (short) block. Grounded on send_dat in
// original_source/tftpy/states/base.py.
func sendData(ctx *session.Context) (finished bool, err error) {
	block := ctx.NextBlock()
	if ctx.Delay != nil {
		if d := ctx.Delay(block); d > 0 {
			ctx.Log.WithField("block", block).Debug("deliberately delaying block for test")
			time.Sleep(d)
		}
	}

	buf := make([]byte, ctx.BlockSize())
	n, readErr := io.ReadFull(ctx.FileObj, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		return false, tftp.NewError("state.sendData", tftp.KindIO, tftp.ErrNotDefined, readErr)
	}
	payload := buf[:n]
	if n < len(buf) {
		finished = true
	}

	dat := packet.NewData(block, payload)
	if err := ctx.Transmit(dat); err != nil {
		return false, err
	}
	ctx.Metrics.AddBytes(len(payload))
	ctx.Log.WithField("block", block).Debug("sent DATA")
	return finished, nil
}

// sendAck acknowledges block.
func sendAck(ctx *session.Context, block uint16) error {
	ctx.Log.WithField("block", block).Debug("sending ACK")
	return ctx.Transmit(packet.NewAck(block))
}

// sendErrorPkt sends an ERROR packet and returns a *tftp.Error describing
// the failure for the caller to propagate, ending the transfer. No packet
// is sent while ctx has no locked TID.
func sendErrorPkt(ctx *session.Context, code tftp.ErrorCode, kind tftp.Kind, msg string) error {
	if ctx.TIDPort == nil {
		ctx.Log.Debug("error encountered outside session, discarding")
	} else if err := ctx.Transmit(packet.NewError(code, msg)); err != nil {
		ctx.Log.WithError(err).Warn("failed to send ERROR packet")
	}
	return tftp.NewError("state", kind, code, nil)
}

// sendOptionAck acknowledges ctx.Options with an OACK.
func sendOptionAck(ctx *session.Context) error {
	ctx.Log.WithField("options", ctx.Options).Debug("sending OACK")
	return ctx.Transmit(packet.NewOptionAck(ctx.Options, packet.OptionOrder(ctx.Options)))
}

// ResendLast retransmits ctx.LastPacket after a timeout, recording a
// duplicate and the resent byte count. Shared by the client driver's and
// the server dispatcher's retry loops so both count resends the same way.
func ResendLast(ctx *session.Context) error {
	if ctx.LastPacket == nil {
		return nil
	}
	encoded := ctx.LastPacket.Encode()
	ctx.Metrics.AddResent(len(encoded))
	if err := ctx.Metrics.AddDup(ctx.LastPacket.Opcode().String()); err != nil {
		return err
	}
	ctx.Log.Debug("resending last packet after timeout")
	return ctx.Transmit(ctx.LastPacket)
}

// negotiate runs requested through options.Negotiate with a file-size
// lookup backed by ctx.FileObj, when it supports seeking.
func negotiate(ctx *session.Context, requested map[string]string) map[string]string {
	sizer := func() (int64, bool) {
		seeker, ok := ctx.FileObj.(io.Seeker)
		if !ok {
			return 0, false
		}
		size, err := seeker.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, false
		}
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return 0, false
		}
		return size, true
	}
	return options.Negotiate(requested, sizer, ctx.Log)
}

// peerError translates an ERROR packet received from the other side into a
// terminal *tftp.Error. File-not-found and access-violation codes get their
// matching Kind; every other code is reported as KindPeer.
func peerError(pkt *packet.Error) error {
	kind := tftp.KindPeer
	if pkt.Code == tftp.ErrFileNotFound {
		kind = tftp.KindFileNotFound
	} else if pkt.Code == tftp.ErrAccessViolation {
		kind = tftp.KindAccessViolation
	}
	return tftp.NewError("state.peerError", kind, pkt.Code, pkt)
}

// illegalPacket sends ILLEGALTFTPOP back at the peer and returns an error
// describing what showed up instead.
func illegalPacket(ctx *session.Context, got packet.Packet, context string) error {
	return sendErrorPkt(ctx, tftp.ErrIllegalOperation, tftp.KindProtocol,
		context+": unexpected "+got.Opcode().String())
}

// handleData processes a DATA packet during a download (client reading, or
// server receiving an upload): the shared logic behind
// original_source/tftpy/states/base.py's handle_dat.
func handleData(ctx *session.Context, dat *packet.Data) (session.State, error) {
	expected := ctx.NextBlock()

	switch {
	case dat.BlockNumber == expected:
		if err := sendAck(ctx, dat.BlockNumber); err != nil {
			return nil, err
		}
		ctx.SetNextBlock(expected + 1)

		if _, err := ctx.FileObj.Write(dat.Payload); err != nil {
			return nil, tftp.NewError("state.handleData", tftp.KindIO, tftp.ErrNotDefined, err)
		}
		ctx.Metrics.AddBytes(len(dat.Payload))

		if len(dat.Payload) < ctx.BlockSize() {
			ctx.Log.Info("end of file detected")
			return nil, nil
		}
		return ExpectData{}, nil

	case dat.BlockNumber < expected:
		if dat.BlockNumber == 0 {
			return nil, sendErrorPkt(ctx, tftp.ErrIllegalOperation, tftp.KindProtocol, "there is no block zero")
		}
		ctx.Log.WithField("block", dat.BlockNumber).Warn("dropping duplicate block")
		if err := ctx.Metrics.AddDup(dat.Opcode().String()); err != nil {
			return nil, err
		}
		if err := sendAck(ctx, dat.BlockNumber); err != nil {
			return nil, err
		}
		return ExpectData{}, nil

	default:
		ctx.Log.WithField("block", dat.BlockNumber).Warn("received future block, discarding")
		ctx.Metrics.AddError()
		return ExpectData{}, nil
	}
}
