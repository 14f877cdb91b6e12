// Package server exposes the fetch-only sync over HTTP for front-ends that
// need fresher data than the last persisted snapshot.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"adxsync/config"
	"adxsync/internal/metadata"
	"adxsync/internal/metrics"
	"adxsync/internal/pipeline"
	"adxsync/logger"
)

const fetchFailedMessage = "Failed to fetch data from API"

// Runner executes one fetch-only sync.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Options configure a Server.
type Options struct {
	Address   string
	DataDir   string
	RateLimit config.RateLimitConfig
	// Counters backs /metrics; a fresh set is created when nil.
	Counters *metrics.Counters
	// EventHistory bounds /api/events (200 when zero).
	EventHistory int
	Log          *logger.Log
}

// Server hosts the Gin router for /api/data, /api/metadata and /metrics.
type Server struct {
	address    string
	dataDir    string
	runner     Runner
	limiter    *rate.Limiter
	counters   *metrics.Counters
	events     *eventStore
	unregister []func()
	log        *logger.Log
	httpServer *http.Server
}

func NewServer(runner Runner, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.Counters == nil {
		opts.Counters = metrics.NewCounters()
	}

	var limiter *rate.Limiter
	if rl := opts.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	events := newEventStore(opts.EventHistory)
	eventsID := metrics.RegisterMetricHandler(events.handle)

	return &Server{
		address:  normalizeAddress(opts.Address),
		dataDir:  opts.DataDir,
		runner:   runner,
		limiter:  limiter,
		counters: opts.Counters,
		events:   events,
		unregister: []func(){
			opts.Counters.Register(),
			func() { metrics.UnregisterMetricHandler(eventsID) },
		},
		log: opts.Log,
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string { return s.address }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("server").WithField("address", s.address).Info("api server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		s.log.WithComponent("server").Info("api server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// Close detaches the server's metric handlers.
func (s *Server) Close() {
	for _, fn := range s.unregister {
		fn()
	}
	s.unregister = nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	_ = router.SetTrustedProxies(nil)

	api := router.Group("/api", s.rateLimit())
	api.GET("/data", s.handleData)
	api.OPTIONS("/data", s.handlePreflight)
	api.GET("/metadata", s.handleMetadata)
	api.GET("/events", s.handleEvents)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.counters.Registry(), promhttp.HandlerOpts{})))
	return router
}

func (s *Server) handleData(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")

	result, err := s.runner.Run(c.Request.Context())
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("fetch for /api/data failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   err.Error(),
			"message": fetchFailedMessage,
		})
		return
	}

	c.Header("Access-Control-Allow-Methods", "GET")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Data(http.StatusOK, "application/json", result.Response.Body)
}

func (s *Server) handlePreflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusOK)
}

func (s *Server) handleMetadata(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")

	desc, err := metadata.Read(s.dataDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   metadata.FileName + " not found",
			"message": "No sync run has completed yet",
		})
	case err != nil:
		s.log.WithComponent("server").WithError(err).Error("failed to read metadata")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   err.Error(),
			"message": "Failed to read metadata",
		})
	default:
		c.JSON(http.StatusOK, desc)
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	snapshot := s.events.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Access-Control-Allow-Origin", "*")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("server").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("request served")
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return config.DefaultServerAddress
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
