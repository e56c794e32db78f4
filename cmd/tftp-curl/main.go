// Command tftp-curl fetches or sends a single file over TFTP, the way curl
// does for HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/client"
	"github.com/jcarswell/gotftpy/packet"
)

func main() {
	var (
		upload    = flag.BoolP("upload", "u", false, "send local file to server instead of fetching")
		blockSize = flag.Int("blksize", tftp.DefBlkSize, "requested block size (RFC 2348)")
		tsize     = flag.Bool("tsize", false, "request the remote file size (RFC 2349)")
		timeout   = flag.Duration("timeout", tftp.SockTimeout, "per-datagram read timeout")
		verbose   = flag.BoolP("verbose", "v", false, "trace every packet sent and received")
		output    = flag.StringP("output", "o", "", "local path, default the remote filename")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] host[:port] remote-file\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	server, remote := flag.Arg(0), flag.Arg(1)

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := []client.Option{
		client.WithTimeout(*timeout),
		client.WithBlockSize(*blockSize),
		client.WithLogger(log),
	}
	if *tsize {
		opts = append(opts, client.WithTsize())
	}
	if *verbose {
		opts = append(opts, client.WithPacketHook(func(pkt packet.Packet) {
			fmt.Fprintf(os.Stderr, "%s\n", pkt.Opcode())
		}))
	}

	localPath := *output
	if localPath == "" {
		localPath = remote
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*time.Duration(tftp.TimeoutRetries+1))
	defer cancel()

	var err error
	if *upload {
		err = runUpload(ctx, server, remote, localPath, opts)
	} else {
		err = runDownload(ctx, server, remote, localPath, opts)
	}
	if err != nil {
		log.WithError(err).Fatal("transfer failed")
	}
}

func runDownload(ctx context.Context, server, remote, localPath string, opts []client.Option) error {
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := client.Download(ctx, server, remote, f, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "received %d bytes in %s (%.1f kbps)\n", m.Bytes, m.Duration, m.Kbps)
	return nil
}

func runUpload(ctx context.Context, server, remote, localPath string, opts []client.Option) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := client.Upload(ctx, server, remote, f, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "sent %d bytes in %s (%.1f kbps)\n", m.Bytes, m.Duration, m.Kbps)
	return nil
}
