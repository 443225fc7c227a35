// Package ops serves the operational HTTP endpoints: Prometheus metrics,
// liveness and readiness.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/seerrbot/core/logger"
)

const readyTimeout = 2 * time.Second

// Options configures the ops server.
type Options struct {
	Listen      string
	MetricsPath string
	Gatherer    prometheus.Gatherer
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine behind the ops server.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	path := opts.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET(path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "ops", "http.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("code", c.Writer.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}

// Server is the ops HTTP server. It satisfies bootstrap.Module.
type Server struct {
	opts Options
	srv  *http.Server
	done chan struct{}
}

// New returns a Server for opts. Nothing listens until Start.
func New(opts Options) *Server {
	return &Server{
		opts: opts,
		srv: &http.Server{
			Addr:              opts.Listen,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Name implements bootstrap.Module.
func (s *Server) Name() string { return "ops" }

// Start binds the listener so a bad address fails startup, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("ops: listen %s: %w", s.opts.Listen, err)
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "ops", "serve", slog.String("status", "error"), slog.String("err", err.Error()))
		}
	}()
	logger.Info(ctx, "ops", "listening",
		slog.String("status", "ok"),
		slog.String("addr", ln.Addr().String()),
		slog.String("metrics_path", s.opts.MetricsPath),
	)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
