package state

import (
	"net"

	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
)

// ExpectData is the state after sending an ACK, waiting for the next DATA
// packet. Shared between a client download and a server receiving an
// upload.
type ExpectData struct{}

func (ExpectData) String() string { return "ExpectData" }

func (ExpectData) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	switch p := pkt.(type) {
	case *packet.Data:
		return handleData(ctx, p)
	case *packet.Error:
		return nil, peerError(p)
	default:
		return nil, illegalPacket(ctx, pkt, "awaiting DATA")
	}
}

// ExpectAck is the state after sending a DATA packet, waiting for its ACK.
// Shared between a client upload and a server sending a download.
type ExpectAck struct{}

func (ExpectAck) String() string { return "ExpectAck" }

func (ExpectAck) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	switch p := pkt.(type) {
	case *packet.Ack:
		return handleAck(ctx, p)
	case *packet.Error:
		return nil, peerError(p)
	default:
		return nil, illegalPacket(ctx, pkt, "awaiting ACK")
	}
}

// handleAck processes an ACK during a send-side transfer: a good ACK
// advances to the next block (or ends the transfer if the last DATA was
// short), a low one is a duplicate, a high one is out of order.
func handleAck(ctx *session.Context, ack *packet.Ack) (session.State, error) {
	expected := ctx.NextBlock()

	switch {
	case ack.BlockNumber == expected:
		if ctx.PendingComplete {
			ctx.Log.Info("received ACK to final DATA, transfer complete")
			return nil, nil
		}
		ctx.SetNextBlock(expected + 1)
		finished, err := sendData(ctx)
		if err != nil {
			return nil, err
		}
		ctx.PendingComplete = finished
		return ExpectAck{}, nil

	case ack.BlockNumber < expected:
		ctx.Log.WithField("block", ack.BlockNumber).Warn("received duplicate ACK")
		if err := ctx.Metrics.AddDup(ack.Opcode().String()); err != nil {
			return nil, err
		}
		return ExpectAck{}, nil

	default:
		ctx.Log.WithField("block", ack.BlockNumber).Warn("received ACK to block we haven't sent, discarding")
		ctx.Metrics.AddError()
		return ExpectAck{}, nil
	}
}
