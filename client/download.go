package client

import (
	"context"
	"io"
	"time"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/metrics"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
	"github.com/jcarswell/gotftpy/state"
)

// FileSink is where a download writes its received bytes.
type FileSink interface {
	io.Writer
	io.Closer
}

type fileSinkWrapper struct{ FileSink }

func (f fileSinkWrapper) Read([]byte) (int, error) { return 0, io.EOF }

// Download fetches filename from server, writing its bytes to dst, and
// returns the transfer's final metrics. Grounded on
// original_source/tftpy/context/client.py's Download.start.
func Download(ctx context.Context, server, filename string, dst FileSink, opts ...Option) (metrics.Metrics, error) {
	cfg := newConfig()
	for _, o := range opts {
		o(cfg)
	}

	sess, err := newSession(server, cfg)
	if err != nil {
		return metrics.Metrics{}, err
	}
	defer sess.End()

	sess.Filename = filename
	sess.Mode = tftp.ModeOctet
	sess.FileObj = fileSinkWrapper{dst}
	requested, order := cfg.requestOptions()
	sess.Options = requested

	sess.Metrics.Start(time.Now())
	sess.PacketHook = wrapProgressHook(cfg, sess.PacketHook)

	rrq := packet.NewReadRQ(filename, tftp.ModeOctet, requested, order)
	if err := sess.Send(rrq); err != nil {
		return metrics.Metrics{}, err
	}
	sess.State = state.SentReadRQ{}

	if err := runLoop(ctx, sess); err != nil {
		return sess.Metrics.Snapshot(), err
	}
	return sess.Metrics.Snapshot(), nil
}

func wrapProgressHook(cfg *config, inner func(packet.Packet)) func(packet.Packet) {
	if cfg.progress == nil {
		return inner
	}
	return func(pkt packet.Packet) {
		if inner != nil {
			inner(pkt)
		}
		switch p := pkt.(type) {
		case *packet.Data:
			cfg.progress(p.BlockNumber, len(p.Payload))
		case *packet.Ack:
			cfg.progress(p.BlockNumber, 0)
		}
	}
}

var _ session.FileObject = fileSinkWrapper{}
