// Package gateway ties admission, breaker gating, selection, and
// forwarding into the request-path router.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/breaker"
	"github.com/In5al/pad-labs-onethree/internal/config"
	"github.com/In5al/pad-labs-onethree/internal/health"
	"github.com/In5al/pad-labs-onethree/internal/metrics"
)

// RegistryClient is the gateway's view of the instance registry.
type RegistryClient interface {
	ListInstances(ctx context.Context, serviceType string) []string
	RegisterInstance(ctx context.Context, serviceType, host string) error
	Connected() bool
}

// InstanceSelector picks the target instance for a service type.
type InstanceSelector interface {
	Select(ctx context.Context, serviceType string) string
}

// HealthView exposes the monitor's recorded probe results.
type HealthView interface {
	Snapshot(serviceType string, instances []string) []health.InstanceHealth
}

// Gateway is the long-lived state behind every handler: breakers, admission
// limiter, load view, and collaborator clients. It is created once by the
// process entry point and passed by reference; there are no package-level
// singletons.
type Gateway struct {
	cfg       *config.Config
	registry  RegistryClient
	selector  InstanceSelector
	health    HealthView
	breakers  *breaker.Manager
	limiter   *Limiter
	forwarder *Forwarder
	metrics   *metrics.Metrics
	logger    *zap.Logger

	status statusCache
}

// New wires the gateway state together and installs the breaker metric
// hook.
func New(cfg *config.Config, reg RegistryClient, sel InstanceSelector, hv HealthView,
	breakers *breaker.Manager, m *metrics.Metrics, logger *zap.Logger) *Gateway {

	g := &Gateway{
		cfg:       cfg,
		registry:  reg,
		selector:  sel,
		health:    hv,
		breakers:  breakers,
		limiter:   NewLimiter(cfg.Server.MaxConcurrentRequests),
		forwarder: NewForwarder(cfg.Backend.RestPort, cfg.Server.GatewaySecret, cfg.Backend.Timeout),
		metrics:   m,
		logger:    logger,
	}

	breakers.SetStateChangeCallback(func(serviceType string, from, to breaker.State) {
		m.SetBreakerState(serviceType, to.GaugeValue())
	})

	// Publish the initial CLOSED state for every service.
	for serviceType := range breakers.Snapshots() {
		m.SetBreakerState(serviceType, breaker.StateClosed.GaugeValue())
	}

	return g
}

// Limiter exposes the admission limiter, for shutdown draining.
func (g *Gateway) Limiter() *Limiter {
	return g.limiter
}

// Handler builds the inbound HTTP surface.
func (g *Gateway) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), g.metricsMiddleware())

	router.GET("/ping", g.handleStatus)
	router.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	router.POST("/sA/register", g.handleRegister)

	proxied := router.Group("/", g.admissionMiddleware())
	proxied.Any("/sA/api/users/auth/*path", g.proxyHandler("A"))
	proxied.Any("/sB/*path", g.proxyHandler("B"))

	return router
}

// admissionMiddleware caps in-flight forwarded requests. The release is
// deferred so every exit path decrements exactly once.
func (g *Gateway) admissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.limiter.Acquire() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"detail": "API Gateway is busy. Please try again later.",
			})
			return
		}
		g.metrics.SetActiveConnections(g.limiter.Current())

		defer func() {
			g.limiter.Release()
			g.metrics.SetActiveConnections(g.limiter.Current())
		}()

		c.Next()
	}
}

// metricsMiddleware records the request duration histogram.
func (g *Gateway) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		g.metrics.ObserveRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}

// proxyHandler runs the per-request state machine for one service type:
// breaker gate, selection, forward, outcome accounting.
func (g *Gateway) proxyHandler(serviceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		br := g.breakers.Get(serviceType)
		if br == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"detail": fmt.Sprintf("service%s is not available or Redis is disconnected", serviceType),
			})
			return
		}

		allowed, probe := br.Allow()
		if !allowed {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"detail": fmt.Sprintf("service%s is currently unavailable (Circuit Breaker: OPEN)", serviceType),
			})
			return
		}

		instance := g.selector.Select(c.Request.Context(), serviceType)
		if instance == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"detail": fmt.Sprintf("service%s is not available or Redis is disconnected", serviceType),
			})
			return
		}

		// The request consuming the OPEN to HALF_OPEN transition counts as
		// a reroute.
		if probe {
			br.RecordReroute()
		}

		outcome := g.forwarder.Forward(c.Request, instance)

		if outcome.Failure() {
			br.RecordFailure()
		} else {
			br.RecordSuccess()
		}

		switch outcome.Kind {
		case OutcomeTimeout:
			g.logger.Error("forward timed out",
				zap.String("service_type", serviceType),
				zap.String("instance", instance),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "Request timed out"})
		case OutcomeTransportError:
			g.logger.Error("forward failed",
				zap.String("service_type", serviceType),
				zap.String("instance", instance),
				zap.String("detail", outcome.Detail))
			c.JSON(http.StatusInternalServerError, gin.H{"detail": outcome.Detail})
		default:
			g.relay(c, outcome.Response)
		}
	}
}

// relay streams the backend response to the client unchanged: status, body
// bytes, and all non-hop-by-hop headers.
func (g *Gateway) relay(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	header := c.Writer.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		g.logger.Warn("response relay interrupted", zap.Error(err))
	}
}

// registerRequest is the POST /sA/register body.
type registerRequest struct {
	Host        string `json:"host"`
	ServiceType string `json:"serviceType"`
}

// handleRegister prepends a host to a service type's instance list.
func (g *Gateway) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Host == "" || req.ServiceType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "host and serviceType are required"})
		return
	}

	if g.breakers.Get(req.ServiceType) == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("unknown service type %q", req.ServiceType),
		})
		return
	}

	if err := g.registry.RegisterInstance(c.Request.Context(), req.ServiceType, req.Host); err != nil {
		g.logger.Error("instance registration failed",
			zap.String("service_type", req.ServiceType),
			zap.String("host", req.Host),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to register instance"})
		return
	}

	g.logger.Info("instance registered",
		zap.String("service_type", req.ServiceType),
		zap.String("host", req.Host))

	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}
