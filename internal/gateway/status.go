package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// statusTTL is the memoization window for the aggregated health document.
const statusTTL = 10 * time.Second

// statusCache memoizes the /ping document; building it reads the registry
// for every service type.
type statusCache struct {
	mu  sync.Mutex
	doc gin.H
	at  time.Time
}

// handleStatus serves the aggregated gateway health document.
func (g *Gateway) handleStatus(c *gin.Context) {
	g.status.mu.Lock()
	if g.status.doc != nil && time.Since(g.status.at) < statusTTL {
		doc := g.status.doc
		g.status.mu.Unlock()
		c.JSON(http.StatusOK, doc)
		return
	}
	g.status.mu.Unlock()

	doc := g.buildStatus(c)

	g.status.mu.Lock()
	g.status.doc = doc
	g.status.at = time.Now()
	g.status.mu.Unlock()

	c.JSON(http.StatusOK, doc)
}

// buildStatus assembles the health document from the registry, the health
// view, and the breaker snapshots.
func (g *Gateway) buildStatus(c *gin.Context) gin.H {
	redisConnected := g.registry.Connected()
	healthy := redisConnected

	services := gin.H{}
	for _, serviceType := range g.cfg.Backend.ServiceTypes {
		instances := g.registry.ListInstances(c.Request.Context(), serviceType)
		if len(instances) == 0 {
			healthy = false
		}

		healthStatus := make([]gin.H, 0, len(instances))
		for _, entry := range g.health.Snapshot(serviceType, instances) {
			item := gin.H{
				"ip":     entry.Instance,
				"status": statusWord(entry.Healthy),
			}
			if entry.LastError != "" {
				item["error"] = entry.LastError
			}
			healthStatus = append(healthStatus, item)
		}

		state := g.breakers.Get(serviceType).State()
		services["service"+serviceType] = gin.H{
			"instances":           len(instances),
			"circuitBreakerState": strings.ReplaceAll(state.String(), "_", "-"),
			"healthStatus":        healthStatus,
		}
	}

	return gin.H{
		"status":    statusWord(healthy),
		"timestamp": time.Now().UnixMilli(),
		"gateway": gin.H{
			"port":                  g.cfg.Server.Port,
			"concurrentRequests":    g.limiter.Current(),
			"maxConcurrentRequests": g.cfg.Server.MaxConcurrentRequests,
			"redisConnected":        redisConnected,
		},
		"services": services,
	}
}

// statusWord maps a boolean onto the document's status vocabulary.
func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
