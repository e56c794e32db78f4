// Package server implements the listening side of the engine: a single
// well-known-port socket accepting new requests, and a dispatcher loop that
// owns every in-flight transfer.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/metrics"
	"github.com/jcarswell/gotftpy/session"
)

// ReadHook supplies file content for a download when the requested path
// doesn't exist under Server's root.
type ReadHook = session.ReadHook

// WriteHook redirects or rejects an upload's destination.
type WriteHook = session.WriteHook

// Option configures a Server.
type Option func(*Server)

// WithReadHook installs a fallback for downloads of files missing on disk.
func WithReadHook(h ReadHook) Option { return func(s *Server) { s.readHook = h } }

// WithWriteHook installs a handler for where uploaded bytes are written.
func WithWriteHook(h WriteHook) Option { return func(s *Server) { s.writeHook = h } }

// WithLogger overrides the server's logger.
func WithLogger(log logrus.FieldLogger) Option { return func(s *Server) { s.log = log } }

// WithMetricsRegisterer registers the server's transfer collector with reg
// instead of leaving metrics unexported.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}

// WithSocketTimeout overrides the per-transfer idle timeout.
func WithSocketTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// WithPort overrides the listening port, default tftp.DefPort.
func WithPort(port int) Option { return func(s *Server) { s.port = port } }

// Server is a TFTP engine bound to a root directory. The zero value is not
// usable; construct with New.
type Server struct {
	root       string
	port       int
	timeout    time.Duration
	readHook   ReadHook
	writeHook  WriteHook
	log        logrus.FieldLogger
	registerer prometheus.Registerer
	collector  *metrics.Collector

	mu       sync.Mutex
	listener *net.UDPConn
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Server rooted at root, ready for Listen.
func New(root string, opts ...Option) *Server {
	s := &Server{
		root:    root,
		port:    tftp.DefPort,
		timeout: tftp.SockTimeout,
		log:     logrus.StandardLogger(),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.collector = metrics.NewCollector([]string{"remote_addr", "filename", "op"}, nil)
	if s.registerer != nil {
		_ = s.registerer.Register(s.collector)
	}
	return s
}

// Stop ends the dispatcher loop, which ends every in-flight transfer and
// makes Listen return. If immediate is true, Stop also closes the listening
// socket at once. Either way in-flight transfers are not waited for: there
// is no mode that stops accepting requests while letting existing
// transfers finish.
func (s *Server) Stop(immediate bool) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if immediate {
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}
}

// Listen opens the well-known-port socket and runs the dispatcher loop
// until ctx is canceled or Stop is called. It returns nil on a clean
// shutdown.
func (s *Server) Listen(ctx context.Context) error {
	addr := &net.UDPAddr{Port: s.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return tftp.NewError("server.Listen", tftp.KindIO, tftp.ErrNotDefined, err)
	}
	s.mu.Lock()
	s.listener = conn
	s.mu.Unlock()
	defer conn.Close()

	s.log.WithField("addr", conn.LocalAddr()).Info("tftp server listening")
	return s.dispatch(ctx, conn)
}
