// Package main is the entry point for the crossyield service: it wires the
// yield coordinator to the lending-pool source, the relay transport, and an
// HTTP facade for reads, refreshes, and inbound relay deliveries.
package main

import (
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/crossyield/internal/breaker"
	"github.com/yourorg/crossyield/internal/codec"
	"github.com/yourorg/crossyield/internal/config"
	"github.com/yourorg/crossyield/internal/coordinator"
	"github.com/yourorg/crossyield/internal/ledger"
	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/optimize"
	"github.com/yourorg/crossyield/internal/otel"
	"github.com/yourorg/crossyield/internal/source"
	"github.com/yourorg/crossyield/internal/store"
	"github.com/yourorg/crossyield/internal/transport"
	"github.com/yourorg/crossyield/internal/types"
	"github.com/yourorg/crossyield/internal/validation"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server hosts the HTTP facade over the coordinator.
type Server struct {
	cfg       config.Config
	coord     *coordinator.Coordinator
	breaker   *breaker.Breaker
	requester model.ActorID
	server    *http.Server
	metrics   *serverMetrics
	rateLimit *rate.Limiter
	tickStop  chan struct{}
}

// serverMetrics holds Prometheus metrics for the HTTP facade
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossyield_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossyield_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
	prometheus.MustRegister(m.requestCounter, m.requestDuration)
	return m
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server := NewServer(cfg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// NewServer builds the coordinator and wraps it in an HTTP server.
func NewServer(cfg config.Config) *Server {
	st := store.New()
	lg := ledger.New(rand.Reader)

	sender := model.NamedActorID(cfg.SenderID)
	clock := coordinator.SystemClock{}
	cd := codec.New(sender, clock.Now, nil, uint64(cfg.RequestTimeout/time.Second))

	var protocol model.ProtocolID
	copy(protocol[:], cfg.ProtocolID)
	pool := source.NewPoolClient(cfg.PoolURL, cfg.PoolAPIKey, protocol)
	relay := transport.NewRelayClient()

	var brk *breaker.Breaker
	if cfg.EnableBreaker {
		brk = breaker.New(breaker.Thresholds{
			MaxAPYBps:              uint32(cfg.BreakerMaxAPYBps),
			MaxTVLChangeBps:        uint64(cfg.BreakerMaxTVLJump),
			MaxConsecutiveFailures: cfg.BreakerMaxFailures,
		}).WithResetDelay(cfg.BreakerResetDelay).WithTripCallback(func(reason string) {
			logrus.Warnf("Local source circuit tripped: %s", reason)
		})
	}

	vopts := validation.DefaultOptions()
	vopts.MaxClockSkewPast = cfg.MaxClockSkewPast
	vopts.MaxClockSkewFuture = cfg.MaxClockSkewFuture

	policy := optimize.DefaultPolicy()
	policy.LocalRiskScore = uint32(cfg.LocalRiskScore)
	policy.RemoteRiskScore = uint32(cfg.RemoteRiskScore)

	coordCfg := coordinator.Config{
		FreshnessWindow: cfg.FreshnessWindow,
		RequestTimeout:  cfg.RequestTimeout,
		Destination: types.Destination{
			Chain:         types.SupportedChain(cfg.RemoteChain),
			RelayEndpoint: cfg.RelayEndpoint,
			APIKey:        cfg.RelayAPIKey,
			Fee:           cfg.RelayFee,
		},
		Validation: vopts,
		Policy:     policy,
	}

	coordMetrics := coordinator.NewMetrics(prometheus.DefaultRegisterer)
	coord, err := coordinator.New(coordCfg, st, lg, cd, pool, relay, clock, brk, coordMetrics)
	if err != nil {
		logrus.Fatalf("Invalid coordinator configuration: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"port":             cfg.Port,
		"remote_chain":     cfg.RemoteChain,
		"freshness_window": cfg.FreshnessWindow,
		"request_timeout":  cfg.RequestTimeout,
		"breaker":          cfg.EnableBreaker,
	}).Info("Server initialized")

	return &Server{
		cfg:       cfg,
		coord:     coord,
		breaker:   brk,
		requester: model.NamedActorID(cfg.RequesterID),
		metrics:   registerMetrics(),
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		tickStop:  make(chan struct{}),
	}
}

// Start begins the HTTP server, the timeout-sweep ticker, and sets up
// graceful shutdown.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/yield", s.handleYield)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/request", s.handleRequest)
	mux.HandleFunc("/relay", s.handleRelay)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.runTicker()

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	close(s.tickStop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}
	logrus.Info("Server stopped")
}

// runTicker drives the coordinator's timeout sweep. The sweep is
// cooperative: nothing else ever moves a Pending request past its timeout.
func (s *Server) runTicker() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if expired := s.coord.Tick(); len(expired) > 0 {
				logrus.WithField("count", len(expired)).Info("Requests timed out")
			}
		case <-s.tickStop:
			return
		}
	}
}

// handleYield serves the optimized view for a token.
func (s *Server) handleYield(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		s.errorResponse(w, "yield", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allow(w, "yield") {
		return
	}

	token, err := parseToken(r)
	if err != nil {
		s.errorResponse(w, "yield", http.StatusBadRequest, err.Error())
		return
	}

	view, err := s.coord.OptimizedView(token)
	if err != nil {
		s.errorResponse(w, "yield", http.StatusServiceUnavailable, err.Error())
		return
	}

	s.observe("yield", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":                token.Hex(),
		"optimized_apy_bps":    view.OptimizedAPYBps,
		"combined_risk_score":  view.CombinedRiskScore,
		"contributing_sources": view.SourceNames,
		"computed_at":          view.ComputedAt,
	})
}

// handleRefresh pulls fresh local data for a token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.errorResponse(w, "refresh", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allow(w, "refresh") {
		return
	}

	token, err := parseToken(r)
	if err != nil {
		s.errorResponse(w, "refresh", http.StatusBadRequest, err.Error())
		return
	}

	if err := s.coord.RefreshLocal(r.Context(), token); err != nil {
		s.errorResponse(w, "refresh", http.StatusBadGateway, err.Error())
		return
	}

	s.observe("refresh", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "refreshed", "token": token.Hex()})
}

// handleRequest issues a remote yield request for a token.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.errorResponse(w, "request", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allow(w, "request") {
		return
	}

	token, err := parseToken(r)
	if err != nil {
		s.errorResponse(w, "request", http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.coord.RequestRemote(r.Context(), token, s.requester)
	switch {
	case err == nil:
	case isAlreadyPending(err):
		s.errorResponse(w, "request", http.StatusConflict, err.Error())
		return
	default:
		s.errorResponse(w, "request", http.StatusBadGateway, err.Error())
		return
	}

	s.observe("request", start)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"request_id": id.Hex(), "token": token.Hex()})
}

// handleRelay receives inbound transport deliveries. Every failure mode is
// a drop; the relay gets a generic rejection with no validation detail.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.errorResponse(w, "relay", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, codec.MaxMessageSize+1))
	if err != nil {
		s.errorResponse(w, "relay", http.StatusBadRequest, "unreadable body")
		return
	}

	if err := s.coord.OnRemoteMessage(raw); err != nil {
		// Already counted and logged by the coordinator.
		s.metrics.requestCounter.WithLabelValues("relay", "dropped").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"status": "dropped"})
		return
	}

	s.observe("relay", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

// handlePause deactivates a (token, source) record.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "pause", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token, src, err := parseTokenAndSource(r)
	if err != nil {
		s.errorResponse(w, "pause", http.StatusBadRequest, err.Error())
		return
	}
	s.coord.Pause(token, src)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "paused", "token": token.Hex(), "source": src.String()})
}

// handleResume reactivates a (token, source) record.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "resume", http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token, src, err := parseTokenAndSource(r)
	if err != nil {
		s.errorResponse(w, "resume", http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.Resume(token, src); err != nil {
		s.errorResponse(w, "resume", http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "resumed", "token": token.Hex(), "source": src.String()})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":           "operational",
		"uptime":           time.Since(startTime).String(),
		"version":          "1.0.0",
		"pending_requests": s.coord.PendingRequests(),
		"configuration": map[string]interface{}{
			"remote_chain":     s.cfg.RemoteChain,
			"freshness_window": s.cfg.FreshnessWindow.String(),
			"request_timeout":  s.cfg.RequestTimeout.String(),
			"breaker":          s.cfg.EnableBreaker,
		},
	}
	if s.breaker != nil {
		status["breaker_state"] = s.breaker.GetState().String()
	}
	writeJSON(w, http.StatusOK, status)
}

// allow applies the rate limiter; false means the response is written.
func (s *Server) allow(w http.ResponseWriter, endpoint string) bool {
	if !s.rateLimit.Allow() {
		s.errorResponse(w, endpoint, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func (s *Server) observe(endpoint string, start time.Time) {
	s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()
	s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	s.metrics.requestCounter.WithLabelValues(endpoint, "error").Inc()
	writeJSON(w, statusCode, map[string]interface{}{"status": "error", "error": errorMsg})
}
