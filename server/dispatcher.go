package server

import (
	"context"
	"net"
	"time"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/metrics"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
	"github.com/jcarswell/gotftpy/state"
)

// rxEvent is one datagram handed from a reader goroutine to the dispatcher.
// sessionKey identifies which socket it arrived on: "" for the well-known
// listen socket, the client's address string for a per-transfer socket.
type rxEvent struct {
	data       []byte
	raddr      *net.UDPAddr
	sessionKey string
}

// readLoop is pure I/O plumbing: it knows nothing about TFTP and only
// forwards what it reads until conn is closed or ctx is done. This is the
// per-socket half of the readiness-multiplexing substitute for a portable
// multi-FD select over UDP sockets.
func readLoop(ctx context.Context, conn *net.UDPConn, key string, rx chan<- rxEvent) {
	buf := make([]byte, tftp.MaxBlkSize+4)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case rx <- rxEvent{data: cp, raddr: raddr, sessionKey: key}:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the server's single serialization point: exactly one
// goroutine owns the session map, reading events off rx and timeouts off
// the sweep ticker. No other goroutine in the process makes a protocol
// decision.
func (s *Server) dispatch(parent context.Context, listener *net.UDPConn) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rx := make(chan rxEvent)
	go readLoop(ctx, listener, "", rx)

	sessions := make(map[string]*session.Context)
	conns := make(map[string]*net.UDPConn)

	sweep := time.NewTicker(s.timeout)
	defer sweep.Stop()

	cleanup := func(key string) {
		if c, ok := sessions[key]; ok {
			s.collector.Untrack(c.ID)
			c.End()
		}
		delete(sessions, key)
		delete(conns, key)
	}
	defer func() {
		for key := range sessions {
			cleanup(key)
		}
	}()

	for {
		select {
		case <-parent.Done():
			return nil
		case <-s.stopCh:
			return nil

		case ev := <-rx:
			key := ev.sessionKey
			if key == "" {
				key = ev.raddr.String()
				if _, exists := sessions[key]; !exists {
					s.acceptRequest(ctx, ev, key, sessions, conns, rx)
					continue
				}
				sessions[key].Log.WithField("remote", ev.raddr).Debug(
					"ignoring request retransmission on listen socket for a live session")
				continue
			}
			sess, ok := sessions[key]
			if !ok {
				continue
			}
			if err := sess.Deliver(ev.data, ev.raddr); err != nil {
				s.logTransferEnd(sess, err)
				cleanup(key)
				continue
			}
			if sess.State == nil {
				s.logTransferEnd(sess, nil)
				cleanup(key)
			}

		case now := <-sweep.C:
			for key, sess := range sessions {
				if err := sess.CheckTimeout(now); err != nil {
					sess.RetryCount++
					if sess.RetryCount >= tftp.TimeoutRetries {
						s.logTransferEnd(sess, err)
						cleanup(key)
						continue
					}
					sess.Log.WithField("attempt", sess.RetryCount).Warn("timed out, resending")
					if err := state.ResendLast(sess); err != nil {
						s.logTransferEnd(sess, err)
						cleanup(key)
					}
				}
			}
		}
	}
}

// acceptRequest handles a fresh request on the listen socket: it opens a
// dedicated per-transfer socket, spawns its reader goroutine, and runs the
// state machine's first transition.
func (s *Server) acceptRequest(ctx context.Context, ev rxEvent, key string, sessions map[string]*session.Context, conns map[string]*net.UDPConn, rx chan rxEvent) {
	req, err := packet.Decode(ev.data)
	if err != nil {
		s.log.WithError(err).WithField("from", ev.raddr).Warn("dropping malformed request")
		return
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		s.log.WithError(err).Error("failed to open transfer socket")
		return
	}
	metrics.LogSocketDiagnostics(conn, s.log)

	sess := session.NewContext(conn, ev.raddr.IP.String(), ev.raddr.Port, s.timeout, s.log)
	sess.Address = ev.raddr.IP
	sess.Root = s.root
	sess.ReadHook = s.readHook
	sess.WriteHook = s.writeHook
	sess.State = state.ServerStart{}
	sess.Metrics.Start(time.Now())

	next, err := sess.State.Handle(sess, req, ev.raddr)
	if err != nil {
		s.logTransferEnd(sess, err)
		sess.End()
		return
	}
	sess.State = next

	label := "read"
	if r, ok := req.(*packet.Request); ok && r.Opcode() == packet.OpWriteRQ {
		label = "write"
	}
	s.collector.Track(sess.ID, sess.Metrics, []string{ev.raddr.String(), sess.Filename, label})

	if sess.State == nil {
		s.logTransferEnd(sess, nil)
		sess.End()
		return
	}

	sessions[key] = sess
	conns[key] = conn
	go readLoop(ctx, conn, key, rx)
}

func (s *Server) logTransferEnd(sess *session.Context, err error) {
	snap := sess.Metrics.Snapshot()
	fields := logrusFields(snap, err)
	if err != nil {
		sess.Log.WithFields(fields).Warn("transfer ended with error")
	} else {
		sess.Log.WithFields(fields).Info("transfer complete")
	}
}

func logrusFields(m metrics.Metrics, err error) map[string]interface{} {
	fields := map[string]interface{}{
		"bytes":    m.Bytes,
		"dups":     m.DupCount,
		"duration": m.Duration,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}
