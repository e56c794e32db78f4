package tftp_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/client"
	"github.com/jcarswell/gotftpy/packet"
	"github.com/jcarswell/gotftpy/server"
	"github.com/jcarswell/gotftpy/session"
)

// nopCloser adapts a bytes.Buffer to client.FileSink/FileSource.
type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

// startTestServer brings up a real server.Server on an ephemeral port and
// returns its address plus a teardown func, for the end-to-end scenarios
// S1-S6 below.
func startTestServer(t *testing.T, root string, opts ...server.Option) (string, func()) {
	t.Helper()
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	opts = append(opts, server.WithPort(port))
	srv := server.New(root, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(ctx) }()
	time.Sleep(50 * time.Millisecond)

	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), func() {
		cancel()
		srv.Stop(true)
		<-errCh
	}
}

// Scenario S1: a 640KB file downloaded with no options arrives byte-for-byte.
func TestScenarioS1PlainDownload(t *testing.T) {
	dir := t.TempDir()
	const size = 655360
	content := bytes.Repeat([]byte{0xAB}, size)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "640KBFILE"), content, 0o600))

	addr, stop := startTestServer(t, dir)
	defer stop()

	var got bytes.Buffer
	m, err := client.Download(context.Background(), addr, "640KBFILE", nopCloser{&got}, client.WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, content, got.Bytes())
	require.EqualValues(t, size, m.Bytes)
}

// Scenario S2: requesting blksize=1024 is honored end to end.
func TestScenarioS2BlockSizeNegotiated(t *testing.T) {
	dir := t.TempDir()
	const size = 655360
	content := bytes.Repeat([]byte{0xCD}, size)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "640KBFILE"), content, 0o600))

	addr, stop := startTestServer(t, dir)
	defer stop()

	var got bytes.Buffer
	m, err := client.Download(context.Background(), addr, "640KBFILE", nopCloser{&got},
		client.WithTimeout(2*time.Second), client.WithBlockSize(1024))
	require.NoError(t, err)
	require.Equal(t, content, got.Bytes())
	require.EqualValues(t, size, m.Bytes)
}

// Scenario S3: requesting tsize=0 gets the real file size back in the OACK,
// observable indirectly via a packet hook capturing the negotiated value.
func TestScenarioS3TsizeRequested(t *testing.T) {
	dir := t.TempDir()
	const size = 655360
	require.NoError(t, os.WriteFile(filepath.Join(dir, "640KBFILE"), bytes.Repeat([]byte{1}, size), 0o600))

	addr, stop := startTestServer(t, dir)
	defer stop()

	var oackTsize string
	hook := func(p packet.Packet) {
		if oack, ok := p.(*packet.OptionAck); ok {
			oackTsize = oack.Options["tsize"]
		}
	}

	var got bytes.Buffer
	_, err := client.Download(context.Background(), addr, "640KBFILE", nopCloser{&got},
		client.WithTimeout(2*time.Second), client.WithTsize(), client.WithPacketHook(hook))
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(size), oackTsize)
	require.EqualValues(t, size, got.Len())
}

// Scenario S4: uploading with a client-chosen blksize writes the exact byte
// count to the server's root.
func TestScenarioS4UploadCustomBlockSize(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startTestServer(t, dir)
	defer stop()

	const size = 655360
	content := bytes.Repeat([]byte{0xEF}, size)
	_, err := client.Upload(context.Background(), addr, "640KBFILE", nopCloser{bytes.NewBuffer(content)},
		client.WithTimeout(2*time.Second), client.WithBlockSize(2048))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "640KBFILE"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// Scenario S5: a request escaping the server root is rejected before any
// file is opened.
func TestScenarioS5PathEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startTestServer(t, dir)
	defer stop()

	var sink bytes.Buffer
	_, err := client.Download(context.Background(), addr, "../setup.py", nopCloser{&sink},
		client.WithTimeout(2*time.Second))
	require.Error(t, err)
	terr, ok := err.(*tftp.Error)
	require.True(t, ok)
	require.Equal(t, tftp.KindPeer, terr.Kind)
	require.Equal(t, tftp.ErrIllegalOperation, terr.Code)
}

// Scenario S6: an upload hook that rejects the destination surfaces access
// violation to the client.
func TestScenarioS6UploadHookRejects(t *testing.T) {
	dir := t.TempDir()
	reject := func(fullPath string, raddr *net.UDPAddr) (session.FileObject, error) { return nil, nil }
	addr, stop := startTestServer(t, dir, server.WithWriteHook(reject))
	defer stop()

	_, err := client.Upload(context.Background(), addr, "anything.bin", nopCloser{bytes.NewBufferString("data")},
		client.WithTimeout(2*time.Second))
	require.Error(t, err)
	terr, ok := err.(*tftp.Error)
	require.True(t, ok)
	require.Equal(t, tftp.KindAccessViolation, terr.Kind)
}
