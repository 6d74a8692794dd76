package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "liqrelay/config"
	"liqrelay/internal/metrics"
	"liqrelay/logger"
)

// ConnectionHealth is one exchange's view of its stream.
type ConnectionHealth struct {
	Exchange          string
	Status            string
	ReconnectAttempts int
	ConnectedAt       time.Time
	LastEventAt       time.Time
	Events            int64
	// EventsSent and EventsDropped count events handed to the relay and
	// events lost to a full notice buffer.
	EventsSent    int64
	EventsDropped int64
}

// Health is the relay state reported by /health.
type Health struct {
	DeliveryEnabled bool
	// DeliveryError explains why delivery-dependent components are not
	// running.
	DeliveryError string
	QueueDepth    int
	Connections   []ConnectionHealth
}

// StatusProvider supplies the live relay state.
type StatusProvider interface {
	Health() Health
}

type deliveryUnavailable struct{ err error }

func (d deliveryUnavailable) Health() Health {
	return Health{DeliveryError: d.err.Error()}
}

// DeliveryUnavailable reports a relay that was not started because delivery
// is required and cannot work.
func DeliveryUnavailable(err error) StatusProvider {
	return deliveryUnavailable{err: err}
}

// Server hosts /health, /metrics and /api/logs.
type Server struct {
	cfg           appconfig.ServerConfig
	app           appconfig.RelayConfig
	log           *logger.Log
	status        StatusProvider
	metricsPage   http.Handler
	activity      *activityStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	startedAt     time.Time
}

// NewServer wires the endpoints. metricsPage may be nil, in which case
// /metrics is not served.
func NewServer(cfg appconfig.ServerConfig, app appconfig.RelayConfig, status StatusProvider, metricsPage http.Handler, log *logger.Log) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	cfg.Address = normalizeAddress(cfg.Address)

	activity := newActivityStore(time.Hour)
	logStore := newLogStore(200)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		app:           app,
		log:           log,
		status:        status,
		metricsPage:   metricsPage,
		activity:      activity,
		logStore:      logStore,
		metricHandler: metrics.RegisterMetricHandler(activity.handle),
		startedAt:     time.Now(),
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("health endpoint listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/health", s.handleHealth)
	router.HEAD("/health", s.handleHealth)

	if s.metricsPage != nil {
		router.GET("/metrics", gin.WrapH(s.metricsPage))
	}

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	return router, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	var h Health
	if s.status != nil {
		h = s.status.Health()
	}

	connections := make(gin.H, len(h.Connections))
	for _, conn := range h.Connections {
		entry := gin.H{
			"status":             conn.Status,
			"reconnect_attempts": conn.ReconnectAttempts,
			"events":             conn.Events,
			"events_sent":        conn.EventsSent,
			"events_dropped":     conn.EventsDropped,
		}
		if !conn.ConnectedAt.IsZero() {
			entry["connected_at"] = conn.ConnectedAt.UTC().Format(time.RFC3339)
		}
		if !conn.LastEventAt.IsZero() {
			entry["last_event_at"] = conn.LastEventAt.UTC().Format(time.RFC3339)
		}
		connections[conn.Exchange] = entry
	}

	now := time.Now()
	body := gin.H{
		"status":           "ok",
		"name":             s.app.Name,
		"version":          s.app.Version,
		"uptime_seconds":   int64(now.Sub(s.startedAt).Seconds()),
		"delivery_enabled": h.DeliveryEnabled,
		"queue_depth":      h.QueueDepth,
		"connections":      connections,
		"recent_events": gin.H{
			"5m": s.activity.counts(5*time.Minute, now),
			"1h": s.activity.counts(time.Hour, now),
		},
	}
	if h.DeliveryError != "" {
		body["delivery_error"] = h.DeliveryError
	}
	c.JSON(http.StatusOK, body)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
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
