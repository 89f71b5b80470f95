// Package api serves the quote over HTTP and pushes snapshots to browsers.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"TickerStream/internal/metrics"
	"TickerStream/internal/stream"
)

// Stream is the part of the stream client exposed over HTTP.
type Stream interface {
	Snapshot() stream.Snapshot
	Connect()
	Disconnect()
	Reconnect()
}

// ControlTokenHeader carries the shared secret for the stream control routes.
const ControlTokenHeader = "X-Control-Token"

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	// ControlToken guards the POST control routes. Empty disables them.
	ControlToken string
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

type Server struct {
	stream   Stream
	hub      *Hub
	log      *zap.Logger
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader
	ctx      context.Context
}

func NewServer(st Stream, hub *Hub, log *zap.Logger, opts Options) *Server {
	s := &Server{
		stream: st,
		hub:    hub,
		log:    log.Named("api"),
		opts:   opts,
		ctx:    context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.opts.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Upgrade", "Connection", ControlTokenHeader},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/quote", s.getQuote)
		api.GET("/stream", s.getStream)

		ctl := api.Group("/stream", s.requireControlToken())
		ctl.POST("/connect", s.control(s.stream.Connect))
		ctl.POST("/disconnect", s.control(s.stream.Disconnect))
		ctl.POST("/reconnect", s.control(s.stream.Reconnect))
	}

	r.GET("/ws", func(c *gin.Context) {
		s.hub.serve(s.ctx, &s.upgrader, c.Writer, c.Request)
	})

	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) getQuote(c *gin.Context) {
	snap := s.stream.Snapshot()
	if snap.Quote == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote available", "connectionStatus": snap.Status})
		return
	}
	c.JSON(http.StatusOK, snap.Quote)
}

func (s *Server) getStream(c *gin.Context) {
	c.JSON(http.StatusOK, s.stream.Snapshot())
}

func (s *Server) control(op func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		op()
		c.JSON(http.StatusAccepted, s.stream.Snapshot())
	}
}

// requireControlToken rejects requests whose ControlTokenHeader does not
// match the configured secret.
func (s *Server) requireControlToken() gin.HandlerFunc {
	want := []byte(s.opts.ControlToken)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "stream control disabled"})
			return
		}
		got := []byte(c.GetHeader(ControlTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.log.Warn("rejected stream control request",
				zap.String("route", c.FullPath()),
				zap.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid control token"})
			return
		}
		c.Next()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin) || slices.Contains(s.opts.AllowedOrigins, "*")
}

// observe logs each request and records its latency.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		if s.opts.Metrics != nil {
			s.opts.Metrics.HTTPRequestDuration.
				WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
				Observe(elapsed.Seconds())
		}
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	}
}
