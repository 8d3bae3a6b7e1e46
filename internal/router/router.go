package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/secure-auth/internal/handler"
	"github.com/jwalitptl/secure-auth/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	authH   Handler
	h       *handler.Handler
	metrics *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimit     middleware.RateLimiterConfig
	MaxBodyBytes  int64
	Timeout       time.Duration
	HSTSMaxAge    int
	MetricsPrefix string
	Registerer    prometheus.Registerer
	Logger        zerolog.Logger
}

func NewRouter(authH Handler, h *handler.Handler, config RouterConfig) *Router {
	engine := gin.New()

	r := &Router{
		engine:  engine,
		authH:   authH,
		h:       h,
		metrics: initRouterMetrics(config.Registerer, config.MetricsPrefix),
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(config.Logger),
		middleware.Logger(config.Logger),
		r.metricsMiddleware(),
		middleware.SecurityHeaders(config.HSTSMaxAge),
	)

	r.setup(config)
	return r
}

func (r *Router) setup(config RouterConfig) {
	r.engine.GET("/metrics", r.h.MetricsHandler())

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.h.RegisterRoutes(api)

	public := api.Group("")
	if config.RateLimit.RPS > 0 {
		public.Use(middleware.NewRateLimiter(config.RateLimit).RateLimit())
	}
	if config.Timeout > 0 {
		public.Use(middleware.Timeout(config.Timeout))
	}
	if config.MaxBodyBytes > 0 {
		public.Use(middleware.BodyLimit(config.MaxBodyBytes))
	}
	r.authH.RegisterRoutes(public)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(reg prometheus.Registerer, prefix string) *routerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if prefix == "" {
		prefix = "http"
	}
	factory := promauto.With(reg)
	return &routerMetrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
