package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/spacechat/internal/registry/route"
)

// ReadinessCheck reports whether a backing dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

var ready atomic.Pointer[ReadinessCheck]

// MarkReady signals that the service has finished initializing. From then on
// /ready answers with the outcome of check, usually a datastore ping. Call
// this once StartServer has completed successfully.
func MarkReady(check ReadinessCheck) {
	if check == nil {
		check = func(context.Context) error { return nil }
	}
	ready.Store(&check)
}

// Reset returns /ready to the starting state.
func Reset() {
	ready.Store(nil)
}

func readiness(c *gin.Context) {
	check := ready.Load()
	if check == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()
	if err := (*check)(ctx); err != nil {
		log.Warn("Readiness check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialized and the datastore answers
			r.GET("/ready", readiness)

			// Prometheus metrics
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
