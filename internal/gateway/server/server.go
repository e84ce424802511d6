package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/chatwave-go/pkg/config"
	"github.com/chatwave-go/pkg/logger"
	"github.com/chatwave-go/pkg/metrics"
	httpmiddleware "github.com/chatwave-go/pkg/middleware/http"
	"github.com/chatwave-go/pkg/ratelimit"
	"github.com/chatwave-go/pkg/resilience"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// upstream is a proxied backend with its own circuit breaker, so one
// failing service does not take down the rest of the gateway.
type upstream struct {
	name    string
	proxy   *httputil.ReverseProxy
	breaker *resilience.CircuitBreaker
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	started    time.Time
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	auth, err := newUpstream("user", cfg.Gateway.AuthUpstream)
	if err != nil {
		return nil, err
	}
	chat, err := newUpstream("chat", cfg.Gateway.ChatUpstream)
	if err != nil {
		return nil, err
	}
	billing, err := newUpstream("billing", cfg.Gateway.BillingUpstream)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		logger:  log,
		started: time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmiddleware.CORS())
	router.Use(httpmiddleware.RequestLogger(log))
	router.Use(httpmiddleware.Metrics("gateway"))
	router.Use(ratelimit.Middleware(ratelimit.NewTokenBucketLimiter(100, 200)))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Any("/api/auth/*path", s.forward(auth, "/api/auth"))
	router.Any("/api/messages/*path", s.forward(chat, "/api/messages"))
	router.Any("/api/billing/*path", s.forward(billing, "/api/billing"))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	return s, nil
}

func newUpstream(name, rawURL string) (*upstream, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s upstream %q: %w", name, rawURL, err)
	}
	return &upstream{
		name:    name,
		proxy:   httputil.NewSingleHostReverseProxy(target),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(name)),
	}, nil
}

// forward strips the gateway prefix and proxies the request through the
// upstream's circuit breaker. 5xx responses count as breaker failures.
func (s *Server) forward(u *upstream, prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.URL.Path = c.Param("path")
		if c.Request.URL.Path == "" {
			c.Request.URL.Path = "/"
		}

		_, err := u.breaker.Execute(func() (interface{}, error) {
			u.proxy.ServeHTTP(c.Writer, c.Request)
			if c.Writer.Status() >= http.StatusInternalServerError {
				return nil, fmt.Errorf("upstream %s returned %d", u.name, c.Writer.Status())
			}
			return nil, nil
		})

		metrics.ProxiedRequestsTotal.WithLabelValues(u.name, strconv.Itoa(c.Writer.Status())).Inc()

		if errors.Is(err, resilience.ErrCircuitOpen) {
			s.logger.Warn("circuit open, rejecting request", "upstream", u.name, "path", prefix)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": fmt.Sprintf("%s service is unavailable", u.name),
			})
		}
	}
}

func (s *Server) health(c *gin.Context) {
	stats := gin.H{
		"status":     "ok",
		"service":    "gateway",
		"uptime":     time.Since(s.started).String(),
		"goroutines": runtime.NumGoroutine(),
		"pid":        os.Getpid(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if info, err := host.Info(); err == nil {
		stats["host_uptime_seconds"] = info.Uptime
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}
