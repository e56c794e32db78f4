package client_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/client"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/session"
	"github.com/jcarswell/gotftpy/state"
)

// nopCloser adapts a bytes.Buffer to the client's FileSink/FileSource
// interfaces for tests that don't care about Close.
type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

// runFakeServer drives one server-side transfer on serverConn using the
// real state machine, serving or storing fileObj through the server hooks,
// so these tests exercise the wire protocol end to end without going
// through the server dispatcher.
func runFakeServer(t *testing.T, serverConn *net.UDPConn, fileObj session.FileObject) {
	t.Helper()

	buf := make([]byte, 70000)
	require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, raddr, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)

	req, err := packet.Decode(buf[:n])
	require.NoError(t, err)

	ctx := session.NewContext(serverConn, raddr.IP.String(), raddr.Port, time.Second, nil)
	ctx.Address = raddr.IP
	// An empty root holds no file to open, so the read hook serves fileObj
	// and the write hook stores into it.
	ctx.Root = t.TempDir()
	ctx.ReadHook = func(string, *net.UDPAddr) (session.FileObject, error) { return fileObj, nil }
	ctx.WriteHook = func(string, *net.UDPAddr) (session.FileObject, error) { return fileObj, nil }
	ctx.State = state.ServerStart{}

	next, err := ctx.State.Handle(ctx, req, raddr)
	require.NoError(t, err)
	ctx.State = next

	for ctx.State != nil {
		require.NoError(t, ctx.Cycle())
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	content := bytes.Repeat([]byte("A"), 1500)
	serverFile := nopCloser{bytes.NewBuffer(content)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runFakeServer(t, serverConn, serverFile)
	}()

	var received bytes.Buffer
	server := serverConn.LocalAddr().(*net.UDPAddr).String()
	m, err := client.Download(context.Background(), server, "boot.img", nopCloser{&received},
		client.WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, content, received.Bytes())
	require.EqualValues(t, len(content), m.Bytes)

	<-done
}

func TestUploadRoundTrip(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	var stored bytes.Buffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		runFakeServer(t, serverConn, nopCloser{&stored})
	}()

	content := bytes.Repeat([]byte("B"), 900)
	server := serverConn.LocalAddr().(*net.UDPAddr).String()
	_, err = client.Upload(context.Background(), server, "out.bin", nopCloser{bytes.NewBuffer(content)},
		client.WithTimeout(2*time.Second))
	require.NoError(t, err)

	<-done
	require.Equal(t, content, stored.Bytes())
}

// TestScenarioS7RetryAfterDelayedFirstData: a peer that holds off its first
// reply past the socket timeout still completes once it answers, with
// resent-byte accounting for every retried request.
func TestScenarioS7RetryAfterDelayedFirstData(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	const filename = "delayed.bin"
	const payload = "entire file in one block"

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 2048)
		require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, raddr, err := serverConn.ReadFromUDP(buf)
		require.NoError(t, err)
		req, err := packet.Decode(buf[:n])
		require.NoError(t, err)
		require.Equal(t, packet.OpReadRQ, req.Opcode())

		time.Sleep(620 * time.Millisecond)

		dat := packet.NewData(1, []byte(payload))
		_, err = serverConn.WriteToUDP(dat.Encode(), raddr)
		require.NoError(t, err)
	}()

	var received bytes.Buffer
	server := serverConn.LocalAddr().(*net.UDPAddr).String()
	m, err := client.Download(context.Background(), server, filename, nopCloser{&received},
		client.WithTimeout(150*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, payload, received.String())

	rrq := packet.NewReadRQ(filename, tftp.ModeOctet, map[string]string{}, nil)
	wantResent := int64(4 * len(rrq.Encode()))
	require.Equal(t, wantResent, m.ResentBytes)

	<-done
}

func TestDownloadFileNotFoundReturnsKindFileNotFound(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	go func() {
		buf := make([]byte, 2048)
		serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, raddr, err := serverConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req, err := packet.Decode(buf[:n])
		if err != nil {
			return
		}
		rrq, ok := req.(*packet.Request)
		if !ok {
			return
		}
		errPkt := packet.NewError(tftp.ErrFileNotFound, "")
		_, _ = serverConn.WriteToUDP(errPkt.Encode(), raddr)
		_ = rrq
	}()

	var sink bytes.Buffer
	server := serverConn.LocalAddr().(*net.UDPAddr).String()
	_, err = client.Download(context.Background(), server, "missing.img", nopCloser{&sink},
		client.WithTimeout(2*time.Second))
	require.Error(t, err)
	terr, ok := err.(*tftp.Error)
	require.True(t, ok)
	require.Equal(t, tftp.KindFileNotFound, terr.Kind)
}
