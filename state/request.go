package state

import (
	"net"

	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
)

// SentReadRQ is the client state right after an RRQ goes out: it's waiting
// for either an OACK (options negotiated), a DATA packet (server ignored
// every option), or an ERROR.
type SentReadRQ struct{}

func (SentReadRQ) String() string { return "SentReadRQ" }

func (SentReadRQ) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	if ctx.TIDPort == nil {
		port := raddr.Port
		ctx.TIDPort = &port
		ctx.Log.WithField("tid", port).Info("locked transfer ID")
	}

	switch p := pkt.(type) {
	case *packet.OptionAck:
		ctx.Options = mergeAccepted(ctx.Options, p.Options)
		if err := sendAck(ctx, 0); err != nil {
			return nil, err
		}
		return ExpectData{}, nil

	case *packet.Data:
		if len(ctx.Options) > 0 {
			ctx.Log.Info("server ignored options, falling back to defaults")
			ctx.Options = map[string]string{}
		}
		return handleData(ctx, p)

	case *packet.Error:
		return nil, peerError(p)

	default:
		return nil, illegalPacket(ctx, pkt, "download awaiting OACK/DATA")
	}
}

// SentWriteRQ is the client state right after a WRQ goes out: waiting for
// an OACK or an ACK to block 0.
type SentWriteRQ struct{}

func (SentWriteRQ) String() string { return "SentWriteRQ" }

func (SentWriteRQ) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	if ctx.TIDPort == nil {
		port := raddr.Port
		ctx.TIDPort = &port
		ctx.Log.WithField("tid", port).Info("locked transfer ID")
	}

	switch p := pkt.(type) {
	case *packet.OptionAck:
		ctx.Options = mergeAccepted(ctx.Options, p.Options)
		ctx.SetNextBlock(1)
		finished, err := sendData(ctx)
		if err != nil {
			return nil, err
		}
		ctx.PendingComplete = finished
		return ExpectAck{}, nil

	case *packet.Ack:
		if p.BlockNumber != 0 {
			ctx.Log.WithField("block", p.BlockNumber).Warn("discarding ACK, still waiting for block 0")
			return SentWriteRQ{}, nil
		}
		ctx.Log.Info("server ignored options")
		ctx.SetNextBlock(1)
		finished, err := sendData(ctx)
		if err != nil {
			return nil, err
		}
		ctx.PendingComplete = finished
		return ExpectAck{}, nil

	case *packet.Error:
		return nil, peerError(p)

	default:
		return nil, illegalPacket(ctx, pkt, "upload awaiting OACK/ACK")
	}
}

// mergeAccepted folds the server's OACK response into the client's option
// set, discarding anything the client didn't ask for.
func mergeAccepted(requested, accepted map[string]string) map[string]string {
	out := make(map[string]string, len(accepted))
	for k, v := range accepted {
		if _, asked := requested[k]; asked {
			out[k] = v
		}
	}
	return out
}
