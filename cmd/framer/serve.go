package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/form"
	"github.com/yourusername/framer/pkg/framer/http11"
	"github.com/yourusername/framer/pkg/framer/multipart"
	"github.com/yourusername/framer/pkg/framer/socket"
	"github.com/yourusername/framer/pkg/framer/spool"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(root *rootCommand) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept HTTP/1.x connections and echo a report of each request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			var mln net.Listener
			if metricsAddr != "" {
				if mln, err = net.Listen("tcp", metricsAddr); err != nil {
					_ = ln.Close()
					return err
				}
			}
			return root.serve(cmd.Context(), ln, mln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus endpoint, empty to disable")
	return cmd
}

// serve accepts connections on ln until ctx is cancelled. When metricsLn is
// not nil, /metrics is served on it.
func (c *rootCommand) serve(ctx context.Context, ln, metricsLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	if metricsLn != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			framer.NewPrometheusCollector(c.pool),
			collectors.NewGoCollector(),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			err := srv.Serve(metricsLn)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		c.logger.WithField("addr", metricsLn.Addr().String()).Info("Serving metrics")
	}

	tuning := socket.DefaultOptions()
	if err := socket.ApplyListener(ln, tuning); err != nil {
		c.logger.WithError(err).Warn("Listener tuning failed")
	}
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		c.logger.WithField("addr", ln.Addr().String()).Info("Accepting connections")
		return c.acceptLoop(ctx, ln, tuning)
	})
	return g.Wait()
}

func (c *rootCommand) acceptLoop(ctx context.Context, ln net.Listener, tuning socket.Options) error {
	handler := c.handler(ctx)
	cfg := c.cfg.ConnectionConfig(c.logger, c.pool)

	g, ctx := errgroup.WithContext(ctx)
	defer func() { _ = g.Wait() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := socket.Apply(conn, tuning); err != nil {
			c.logger.WithError(err).WithField("remote", conn.RemoteAddr().String()).Debug("Connection tuning failed")
		}
		hc := http11.NewConnection(conn, cfg, handler)
		g.Go(func() error {
			// Rejections are answered and logged by the connection.
			_ = hc.Serve(ctx)
			return nil
		})
	}
}

// handler answers every request with its report. Decoding failures are
// client errors and close the connection.
func (c *rootCommand) handler(ctx context.Context) http11.Handler {
	in := c.inspector()
	return func(req *http11.Request, w *http11.ResponseWriter) error {
		rep, err := in.inspect(ctx, req)
		if err != nil {
			var rej *http11.RejectionError
			if errors.As(err, &rej) {
				return rej
			}
			status := statusFor(err)
			if status == 0 {
				return err
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				"path":   req.Path(),
				"status": status,
			}).Info("Request body rejected")
			w.SetClose()
			return w.WriteError(status, err.Error())
		}

		var buf bytes.Buffer
		if _, err := rep.WriteTo(&buf); err != nil {
			return err
		}
		return w.WriteText(200, buf.Bytes())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, multipart.ErrInvalidData),
		errors.Is(err, multipart.ErrNoBoundary),
		errors.Is(err, form.ErrInvalidData):
		return 400
	case errors.Is(err, spool.ErrBufferLimitExceeded):
		return 413
	}
	return 0
}
