package state

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
)

// ServerStart is the transitory state a server-side context begins in: it
// doesn't yet know whether this is an upload or a download, and commits to
// one as soon as it sees the initial request.
type ServerStart struct{}

func (ServerStart) String() string { return "ServerStart" }

func (ServerStart) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	switch p := pkt.(type) {
	case *packet.Request:
		if p.Opcode() == packet.OpReadRQ {
			return ServerRecvRRQ{}.Handle(ctx, pkt, raddr)
		}
		return ServerRecvWRQ{}.Handle(ctx, pkt, raddr)
	default:
		return nil, illegalPacket(ctx, pkt, "server awaiting RRQ/WRQ")
	}
}

// resolvePath joins filename onto root and verifies the result doesn't
// escape root via ".." or an absolute path, the way
// original_source/tftpy/states/server/base.py's server_initial does: clean
// the joined path with filepath.Abs, then check it still has root as a
// prefix.
func resolvePath(root, filename string) (string, error) {
	candidate := filename
	if !strings.HasPrefix(candidate, root) {
		candidate = filepath.Join(root, strings.TrimPrefix(filename, "/"))
	}

	full, err := filepath.Abs(candidate)
	if err != nil {
		return "", tftp.NewError("state.resolvePath", tftp.KindIO, tftp.ErrNotDefined, err)
	}

	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", tftp.NewError("state.resolvePath", tftp.KindIO, tftp.ErrNotDefined, err)
	}

	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", tftp.NewError("state.resolvePath", tftp.KindProtocol, tftp.ErrIllegalOperation, nil)
	}
	return full, nil
}

// serverInitial performs the setup common to receiving an RRQ or a WRQ:
// locking the TID, applying default options, negotiating any requested
// options, validating the transfer mode, and resolving the request's
// filename to a contained path. It returns whether an OACK is owed to the
// client.
func serverInitial(ctx *session.Context, req *packet.Request, raddr *net.UDPAddr) (fullPath string, sendOACK bool, err error) {
	if ctx.TIDPort == nil {
		port := raddr.Port
		ctx.TIDPort = &port
	}

	ctx.Options = map[string]string{"blksize": strconv.Itoa(tftp.DefBlkSize)}
	if len(req.Options) > 0 {
		accepted := negotiate(ctx, req.Options)
		for k, v := range accepted {
			ctx.Options[k] = v
		}
		sendOACK = true
	}

	if !req.Mode.Supported() {
		return "", false, sendErrorPkt(ctx, tftp.ErrIllegalOperation, tftp.KindProtocol, "unsupported transfer mode")
	}
	ctx.Mode = req.Mode.Normalize()

	full, err := resolvePath(ctx.Root, req.Filename)
	if err != nil {
		_ = sendErrorPkt(ctx, tftp.ErrIllegalOperation, tftp.KindProtocol, "requested path escapes server root")
		return "", false, err
	}

	ctx.Filename = req.Filename
	return full, sendOACK, nil
}

// ServerRecvRRQ handles the server side of a download request.
type ServerRecvRRQ struct{}

func (ServerRecvRRQ) String() string { return "ServerRecvRRQ" }

func (ServerRecvRRQ) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	req, ok := pkt.(*packet.Request)
	if !ok {
		return nil, illegalPacket(ctx, pkt, "server expecting RRQ")
	}

	fullPath, sendOACK, err := serverInitial(ctx, req, raddr)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	switch {
	case err == nil:
		ctx.FileObj = f
	case ctx.ReadHook != nil:
		obj, hookErr := ctx.ReadHook(req.Filename, raddr)
		if hookErr != nil || obj == nil {
			return nil, sendErrorPkt(ctx, tftp.ErrFileNotFound, tftp.KindFileNotFound, "file not found")
		}
		ctx.FileObj = obj
	default:
		return nil, sendErrorPkt(ctx, tftp.ErrFileNotFound, tftp.KindFileNotFound, "file not found")
	}

	if sendOACK {
		if sizer, ok := ctx.FileObj.(interface{ Seek(int64, int) (int64, error) }); ok {
			if _, hasTsize := ctx.Options["tsize"]; hasTsize {
				if size, serr := sizer.Seek(0, 2); serr == nil {
					ctx.Options["tsize"] = strconv.Itoa(int(size))
					_, _ = sizer.Seek(0, 0)
				}
			}
		}
		if err := sendOptionAck(ctx); err != nil {
			return nil, err
		}
		return ExpectAck{}, nil
	}

	ctx.SetNextBlock(1)
	finished, err := sendData(ctx)
	if err != nil {
		return nil, err
	}
	ctx.PendingComplete = finished
	return ExpectAck{}, nil
}

// ServerRecvWRQ handles the server side of an upload request.
type ServerRecvWRQ struct{}

func (ServerRecvWRQ) String() string { return "ServerRecvWRQ" }

func (ServerRecvWRQ) Handle(ctx *session.Context, pkt packet.Packet, raddr *net.UDPAddr) (session.State, error) {
	req, ok := pkt.(*packet.Request)
	if !ok {
		return nil, illegalPacket(ctx, pkt, "server expecting WRQ")
	}

	fullPath, sendOACK, err := serverInitial(ctx, req, raddr)
	if err != nil {
		return nil, err
	}

	if ctx.WriteHook != nil {
		obj, hookErr := ctx.WriteHook(fullPath, raddr)
		if hookErr != nil || obj == nil {
			return nil, sendErrorPkt(ctx, tftp.ErrAccessViolation, tftp.KindAccessViolation, "upload not permitted")
		}
		ctx.FileObj = obj
	} else {
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o700); err != nil {
			return nil, tftp.NewError("state.ServerRecvWRQ", tftp.KindIO, tftp.ErrNotDefined, err)
		}
		f, err := os.Create(fullPath)
		if err != nil {
			return nil, sendErrorPkt(ctx, tftp.ErrAccessViolation, tftp.KindAccessViolation, "could not open file for writing")
		}
		ctx.FileObj = f
	}

	if sendOACK {
		if err := sendOptionAck(ctx); err != nil {
			return nil, err
		}
	} else if err := sendAck(ctx, 0); err != nil {
		return nil, err
	}

	ctx.SetNextBlock(1)
	return ExpectData{}, nil
}
