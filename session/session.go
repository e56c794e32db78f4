// Package session holds the per-transfer context the state machine acts on:
// the socket, the peer, the negotiated options, and the bookkeeping a
// RFC 1350 transfer needs across the retry loop. Named session rather than
// context to avoid colliding with the standard library package of that
// name, even though it plays the role original_source/tftpy/context/base.py
// calls "context".
package session

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/metrics"
	"github.com/jcarswell/gotftpy/packet"
)

// State is one node of the per-transfer state machine. Handle consumes a
// decoded packet from raddr and returns the state to transition to (nil
// ends the transfer) or an error that terminates it.
//
// Declared here, rather than in the state package that implements it, so
// Context (which holds a State) and the concrete state structs (which take
// a *Context) don't import each other.
type State interface {
	Handle(ctx *Context, pkt packet.Packet, raddr *net.UDPAddr) (State, error)
	String() string
}

// FileObject is the minimal surface a transfer needs from whatever backs
// the file being sent or received.
type FileObject interface {
	io.Reader
	io.Writer
	io.Closer
}

// Context is a single transfer's state: one exists per client transfer and
// per server-side transfer, never shared between peers.
type Context struct {
	// ID is this transfer's identity for logging and metrics, independent
	// of the wire-level TFTP transfer ID.
	ID metrics.TransferID

	Host    string
	Address net.IP
	Port    int
	// TIDPort is the peer port this session is locked to, once learned
	// from its first reply; nil before that point.
	TIDPort *int

	Conn    *net.UDPConn
	Timeout time.Duration

	Filename string
	Mode     tftp.Mode
	Options  map[string]string
	FileObj  FileObject

	// Root, ReadHook and WriteHook are only set on server-side contexts.
	// Root is the directory a request's filename must resolve inside of;
	// ReadHook and WriteHook let a caller serve or accept files that don't
	// exist on disk.
	Root      string
	ReadHook  ReadHook
	WriteHook WriteHook

	State State

	nextBlock  uint16
	LastPacket packet.Packet
	LastUpdate time.Time
	RetryCount int

	Metrics *metrics.Metrics

	// PendingComplete marks a sending transfer (a client upload or a
	// server serving a download) that has sent its final short DATA packet
	// and is only waiting for that packet's ACK before ending.
	PendingComplete bool

	// PacketHook, if set, is invoked with every packet sent or received,
	// for tests and for tftp-curl's verbose tracing.
	PacketHook func(packet.Packet)

	// Delay, if set, is consulted before sending the named block number;
	// a test hook for exercising timeout/retry behavior deterministically
	// (see original_source/tftpy/shared.py's DELAY_BLOCK).
	Delay func(block uint16) time.Duration

	Log logrus.FieldLogger
}

// NewContext builds a Context bound to conn, ready to have its State set
// and Cycle or Deliver driven.
func NewContext(conn *net.UDPConn, host string, port int, timeout time.Duration, log logrus.FieldLogger) *Context {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := metrics.NewTransferID()
	return &Context{
		ID:      id,
		Host:    host,
		Port:    port,
		Conn:    conn,
		Timeout: timeout,
		Metrics: &metrics.Metrics{},
		Log:     log.WithField("transfer", string(id)),
	}
}

// BlockSize returns the negotiated block size, or tftp.DefBlkSize if no
// blksize option was accepted.
func (c *Context) BlockSize() int {
	if v, ok := c.Options["blksize"]; ok {
		n := 0
		for _, ch := range v {
			if ch < '0' || ch > '9' {
				return tftp.DefBlkSize
			}
			n = n*10 + int(ch-'0')
		}
		return n
	}
	return tftp.DefBlkSize
}

// NextBlock returns the block number the next DATA or ACK should carry.
func (c *Context) NextBlock() uint16 { return c.nextBlock }

// SetNextBlock forces the next block number, used when a session's first
// ACK (block 0) needs to seed an upload's block 1.
func (c *Context) SetNextBlock(b uint16) { c.nextBlock = b }

// CheckTimeout reports a Kind-Timeout *tftp.Error if now is further than
// c.Timeout past the last traffic this session saw.
func (c *Context) CheckTimeout(now time.Time) error {
	if now.Sub(c.LastUpdate) > c.Timeout {
		return tftp.NewError("session.CheckTimeout", tftp.KindTimeout, tftp.ErrNotDefined, nil)
	}
	return nil
}

// End releases the session's resources. Safe to call more than once.
func (c *Context) End() {
	if c.Conn != nil {
		c.Conn.Close()
	}
	if c.FileObj != nil {
		c.FileObj.Close()
	}
	c.Metrics.End(time.Now())
}

// peerAddr is where outgoing packets go: the negotiated TID port once
// known, else the well-known request port.
func (c *Context) peerAddr() *net.UDPAddr {
	port := c.Port
	if c.TIDPort != nil {
		port = *c.TIDPort
	}
	return &net.UDPAddr{IP: c.Address, Port: port}
}

// Transmit encodes and sends pkt to the session's current peer without
// touching the block counter; callers that carry their own block-number
// bookkeeping (the state package's DATA/ACK/OACK/ERROR senders) use this.
func (c *Context) Transmit(pkt packet.Packet) error {
	buf := pkt.Encode()
	if _, err := c.Conn.WriteToUDP(buf, c.peerAddr()); err != nil {
		return tftp.NewError("session.Transmit", tftp.KindIO, tftp.ErrNotDefined, err)
	}
	c.LastPacket = pkt
	if c.PacketHook != nil {
		c.PacketHook(pkt)
	}
	return nil
}

// Send transmits pkt the way the client's initial request send does: after
// a successful write, the block counter advances from 0 to 1, or otherwise
// increments, wrapping from 65535 back to 0 via plain uint16 overflow. Used
// only for the opening RRQ/WRQ; every later packet in a transfer goes
// through Transmit with the state package managing next_block explicitly.
func (c *Context) Send(pkt packet.Packet) error {
	if err := c.Transmit(pkt); err != nil {
		return err
	}
	if c.nextBlock == 0 {
		c.nextBlock = 1
	} else {
		c.nextBlock++
	}
	return nil
}

// Cycle blocks for one datagram on c.Conn and delivers it via Deliver. It
// returns a Kind-Timeout *tftp.Error if no traffic arrives within
// c.Timeout. Used by the client driver, which owns exactly one socket per
// transfer; the server dispatcher instead reads on per-session reader
// goroutines and calls Deliver directly (see Design Notes on readiness
// multiplexing).
func (c *Context) Cycle() error {
	buf := make([]byte, tftp.MaxBlkSize+4)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return tftp.NewError("session.Cycle", tftp.KindIO, tftp.ErrNotDefined, err)
	}

	n, raddr, err := c.Conn.ReadFromUDP(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return tftp.NewError("session.Cycle", tftp.KindTimeout, tftp.ErrNotDefined, err)
		}
		return tftp.NewError("session.Cycle", tftp.KindIO, tftp.ErrNotDefined, err)
	}

	return c.Deliver(buf[:n], raddr)
}

// Deliver decodes a single datagram already read from the wire, screens it
// against the session's known peer, and dispatches it to the current
// State, advancing c.State on success.
func (c *Context) Deliver(data []byte, raddr *net.UDPAddr) error {
	c.LastUpdate = time.Now()

	pkt, err := packet.Decode(data)
	if err != nil {
		return err
	}

	if c.Address != nil && !raddr.IP.Equal(c.Address) {
		c.Log.WithField("from", raddr).Warn("received traffic from unexpected host, discarding")
		return nil
	}
	if c.TIDPort != nil && *c.TIDPort != raddr.Port {
		c.Log.WithField("from", raddr).Warn("received traffic from unexpected TID, discarding")
		return nil
	}

	if c.PacketHook != nil {
		c.PacketHook(pkt)
	}

	next, err := c.State.Handle(c, pkt, raddr)
	if err != nil {
		return err
	}
	c.State = next
	c.RetryCount = 0
	return nil
}
