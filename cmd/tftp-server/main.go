// Command tftp-server runs the engine's listening side against a directory
// on disk.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/jcarswell/gotftpy"
	"github.com/jcarswell/gotftpy/server"
)

func main() {
	var (
		root       = flag.StringP("root", "r", ".", "directory served to clients")
		port       = flag.IntP("port", "p", tftp.DefPort, "UDP port to listen on")
		timeout    = flag.Duration("timeout", tftp.SockTimeout, "per-transfer idle timeout")
		metricAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
		verbose    = flag.BoolP("verbose", "v", false, "enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := []server.Option{
		server.WithLogger(log),
		server.WithPort(*port),
		server.WithSocketTimeout(*timeout),
	}

	if *metricAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, server.WithMetricsRegisterer(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	srv := server.New(*root, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(logrus.Fields{"root": *root, "port": *port}).Info("starting tftp-server")
	if err := srv.Listen(ctx); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
