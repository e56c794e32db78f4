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

// FileSource is where an upload reads the bytes it sends.
type FileSource interface {
	io.Reader
	io.Closer
}

type fileSourceWrapper struct{ FileSource }

func (f fileSourceWrapper) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

// Upload sends src to server under filename, returning the transfer's final
// metrics. Grounded on original_source/tftpy/context/client.py's
// Upload.start.
func Upload(ctx context.Context, server, filename string, src FileSource, opts ...Option) (metrics.Metrics, error) {
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
	sess.FileObj = fileSourceWrapper{src}
	requested, order := cfg.requestOptions()
	sess.Options = requested

	sess.Metrics.Start(time.Now())
	sess.PacketHook = wrapProgressHook(cfg, sess.PacketHook)

	wrq := packet.NewWriteRQ(filename, tftp.ModeOctet, requested, order)
	if err := sess.Send(wrq); err != nil {
		return metrics.Metrics{}, err
	}
	sess.State = state.SentWriteRQ{}

	if err := runLoop(ctx, sess); err != nil {
		return sess.Metrics.Snapshot(), err
	}
	return sess.Metrics.Snapshot(), nil
}

var _ session.FileObject = fileSourceWrapper{}
