// Package client drives a TFTP transfer from the requesting side: resolve
// the server, send the initial request, then run the retry loop described
// by original_source/tftpy/context/client.py's Upload and Download classes
// until the state machine reports completion.
package client

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
	"github.com/jcarswell/gotftpy/state"
)

// Option configures a transfer. Functional options keep Download/Upload's
// signature stable as the set of knobs (block size, logger, progress hook)
// grows.
type Option func(*config)

type config struct {
	timeout    time.Duration
	blockSize  int
	tsize      bool
	log        logrus.FieldLogger
	progress   func(block uint16, n int)
	packetHook func(packet.Packet)
}

func newConfig() *config {
	return &config{
		timeout:   tftp.SockTimeout,
		blockSize: tftp.DefBlkSize,
		log:       logrus.StandardLogger(),
	}
}

// WithTimeout overrides the per-datagram read timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithBlockSize requests blksize via RFC 2348; the server may clamp it.
func WithBlockSize(n int) Option { return func(c *config) { c.blockSize = n } }

// WithTsize requests the RFC 2349 tsize option.
func WithTsize() Option { return func(c *config) { c.tsize = true } }

// WithLogger overrides the logger used for the transfer, defaulting to
// logrus's standard logger.
func WithLogger(log logrus.FieldLogger) Option { return func(c *config) { c.log = log } }

// WithProgressHook is called after every block transmitted or received.
func WithProgressHook(fn func(block uint16, n int)) Option {
	return func(c *config) { c.progress = fn }
}

// WithPacketHook is called with every packet sent or received, for tracing.
func WithPacketHook(fn func(packet.Packet)) Option { return func(c *config) { c.packetHook = fn } }

func (c *config) requestOptions() (opts map[string]string, order []string) {
	opts = map[string]string{}
	if c.blockSize != tftp.DefBlkSize {
		opts["blksize"] = strconv.Itoa(c.blockSize)
		order = append(order, "blksize")
	}
	if c.tsize {
		opts["tsize"] = "0"
		order = append(order, "tsize")
	}
	return opts, order
}

// newSession resolves server and dials a fresh local UDP socket bound to an
// ephemeral port, the way original_source/tftpy/context/base.py's
// constructor does.
func newSession(server string, cfg *config) (*session.Context, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, tftp.NewError("client.newSession", tftp.KindIO, tftp.ErrNotDefined, err)
	}
	if addr.Port == 0 {
		addr.Port = tftp.DefPort
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, tftp.NewError("client.newSession", tftp.KindIO, tftp.ErrNotDefined, err)
	}

	ctx := session.NewContext(conn, addr.IP.String(), addr.Port, cfg.timeout, cfg.log)
	ctx.Address = addr.IP
	ctx.PacketHook = cfg.packetHook
	return ctx, nil
}

// runLoop drives ctx.Cycle until the state machine reaches a terminal state
// (nil, returned by Cycle leaving ctx.State nil) or the retry budget is
// exhausted, retransmitting the last packet on every timeout the way
// tftpy's Upload/Download.start while loop does.
func runLoop(ctx context.Context, sess *session.Context) error {
	for sess.State != nil {
		if err := ctx.Err(); err != nil {
			return tftp.NewError("client.runLoop", tftp.KindIO, tftp.ErrNotDefined, err)
		}

		err := sess.Cycle()
		if err == nil {
			continue
		}

		terr, ok := err.(*tftp.Error)
		if !ok || terr.Kind != tftp.KindTimeout {
			return err
		}

		sess.RetryCount++
		if sess.RetryCount >= tftp.TimeoutRetries {
			return tftp.NewError("client.runLoop", tftp.KindTimeout, tftp.ErrNotDefined, err)
		}
		sess.Log.WithField("attempt", sess.RetryCount).Warn("timed out waiting for traffic, resending")
		if resendErr := state.ResendLast(sess); resendErr != nil {
			return resendErr
		}
	}
	return nil
}
