package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/consolidation"
	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Consolidator runs consolidation on demand and remembers the last report.
type Consolidator interface {
	RunOnce(ctx context.Context) (consolidation.Report, error)
	Last() *consolidation.Report
}

// Inspector reports integrity violations without repairing them.
type Inspector interface {
	Inspect(ctx context.Context) (*consolidation.Integrity, error)
}

// MountRoutes mounts admin API routes.
func MountRoutes(r *gin.Engine, store registrystore.SpaceStore, inspector Inspector, consolidator Consolidator, cfg *config.Config, auth gin.HandlerFunc) {
	requireAuditor := security.RequireAuditorRole()
	requireAdmin := security.RequireAdminRole()

	g := r.Group("/v1/admin", auth, requireAuditor)

	g.GET("/spaces/:id", func(c *gin.Context) {
		adminGetSpace(c, store)
	})
	g.GET("/chats/:id", func(c *gin.Context) {
		adminGetChat(c, store)
	})

	// Integrity
	g.GET("/integrity", func(c *gin.Context) {
		integrity, err := inspector.Inspect(c.Request.Context())
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"clean": integrity.Clean(), "violations": integrity})
	})
	g.POST("/consolidate", requireAdmin, func(c *gin.Context) {
		report, err := consolidator.RunOnce(c.Request.Context())
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
	g.GET("/consolidate/last", func(c *gin.Context) {
		last := consolidator.Last()
		if last == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "consolidation has not run yet"})
			return
		}
		c.JSON(http.StatusOK, last)
	})

	// Stats
	stats := newPrometheusStatsHandler(cfg)
	g.GET("/stats/request-rate", stats.rangeHandler(requestRateQuery, "request_rate", "requests/sec"))
	g.GET("/stats/error-rate", stats.rangeHandler(errorRateQuery, "error_rate", "percent"))
	g.GET("/stats/latency-p95", stats.rangeHandler(latencyP95Query, "latency_p95", "seconds"))
	g.GET("/stats/cache-hit-rate", stats.rangeHandler(cacheHitRateQuery, "cache_hit_rate", "percent"))
	g.GET("/stats/db-pool-utilization", stats.rangeHandler(dbPoolUtilizationQuery, "db_pool_utilization", "percent"))
	g.GET("/stats/store-latency-p95", stats.multiSeriesHandler(storeLatencyP95Query, "store_latency_p95", "seconds", "operation"))
	g.GET("/stats/store-throughput", stats.multiSeriesHandler(storeThroughputQuery, "store_throughput", "operations/sec", "operation"))
	g.GET("/stats/resolver-outcomes", stats.multiSeriesHandler(resolverOutcomesQuery, "resolver_outcomes", "resolutions/sec", "outcome"))
	g.GET("/stats/integrity-violations", stats.multiSeriesHandler(integrityViolationsQuery, "integrity_violations", "violations/hour", "kind"))
	g.GET("/stats/consolidation-changes", stats.multiSeriesHandler(consolidationChangesQuery, "consolidation_changes", "rows/hour", "step"))
}

type chatDetail struct {
	Chat         *model.Chat             `json:"chat"`
	Links        []model.SpaceChatLink   `json:"links"`
	Participants []model.ChatParticipant `json:"participants"`
	Reads        []model.ChatMessageRead `json:"reads"`
	MessageCount int64                   `json:"messageCount"`
}

func adminGetSpace(c *gin.Context, store registrystore.SpaceStore) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "space not found"})
		return
	}
	ctx := c.Request.Context()
	space, err := store.GetSpace(ctx, id)
	if err != nil {
		handleError(c, err)
		return
	}
	links, err := store.ListLinksBySpace(ctx, id)
	if err != nil {
		handleError(c, err)
		return
	}
	chats := make([]chatDetail, 0, len(links))
	for _, link := range links {
		detail, err := loadChat(ctx, store, link.ChatID)
		if err != nil {
			handleError(c, err)
			return
		}
		chats = append(chats, *detail)
	}
	c.JSON(http.StatusOK, gin.H{"space": space, "chats": chats})
}

func adminGetChat(c *gin.Context, store registrystore.SpaceStore) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	detail, err := loadChat(c.Request.Context(), store, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func loadChat(ctx context.Context, store registrystore.SpaceStore, chatID uuid.UUID) (*chatDetail, error) {
	chat, err := store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	detail := &chatDetail{Chat: chat}
	if detail.Links, err = store.ListLinksByChat(ctx, chatID); err != nil {
		return nil, err
	}
	if detail.Participants, err = store.ListParticipants(ctx, chatID); err != nil {
		return nil, err
	}
	if detail.Reads, err = store.ListReads(ctx, chatID); err != nil {
		return nil, err
	}
	if detail.MessageCount, err = store.CountMessages(ctx, chatID); err != nil {
		return nil, err
	}
	return detail, nil
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var forbidden *registrystore.ForbiddenError
	var conflict *registrystore.ConflictError
	var validation *registrystore.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("Admin API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
