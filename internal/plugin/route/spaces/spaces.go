package spaces

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/conversation"
	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the space and chat routes.
func MountRoutes(r *gin.Engine, svc *conversation.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth, registerCaller(svc.Directory()))

	g.POST("/spaces", func(c *gin.Context) {
		createSpace(c, svc)
	})
	g.GET("/spaces/:spaceId/conversation", func(c *gin.Context) {
		getConversation(c, svc)
	})
	g.POST("/spaces/:spaceId/read", func(c *gin.Context) {
		markRead(c, svc)
	})
	g.POST("/spaces/:spaceId/members", func(c *gin.Context) {
		editMembers(c, svc, svc.AddMembers)
	})
	g.DELETE("/spaces/:spaceId/members", func(c *gin.Context) {
		editMembers(c, svc, svc.RemoveMembers)
	})
	g.GET("/chats/:chatId/messages", func(c *gin.Context) {
		listMessages(c, svc)
	})
	g.POST("/chats/:chatId/messages", func(c *gin.Context) {
		postMessage(c, svc)
	})
	g.GET("/unread", func(c *gin.Context) {
		unreadCounts(c, svc)
	})
	g.POST("/direct/:userId", func(c *gin.Context) {
		firstContact(c, svc)
	})
}

// registerCaller records the caller in the user directory so other users
// can find them by email or name.
func registerCaller(dir *conversation.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := security.GetIdentity(c)
		if id == nil || id.UserID == "" {
			c.Next()
			return
		}
		if _, err := dir.Ensure(c.Request.Context(), id.UserID, id.Name, id.Email); err != nil {
			log.Error("Failed to register caller", "userId", id.UserID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Next()
	}
}

type conversationResponse struct {
	ChatID       uuid.UUID               `json:"chatId"`
	SpaceID      uuid.UUID               `json:"spaceId"`
	Participants []model.ChatParticipant `json:"participants"`
	Space        *model.Space            `json:"space,omitempty"`
}

func createSpace(c *gin.Context, svc *conversation.Service) {
	var req struct {
		Name        string      `json:"name"        binding:"required"`
		ExternalKey *string     `json:"externalKey"`
		ParentIDs   []uuid.UUID `json:"parentIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	space, conv, err := svc.CreateProjectSpace(c.Request.Context(), security.GetUserID(c), req.Name, req.ExternalKey, req.ParentIDs)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversationResponse{
		ChatID:       conv.ChatID,
		SpaceID:      space.ID,
		Participants: conv.Participants,
		Space:        space,
	})
}

func getConversation(c *gin.Context, svc *conversation.Service) {
	spaceID, ok := pathID(c, "spaceId", "space")
	if !ok {
		return
	}
	conv, err := svc.Conversation(c.Request.Context(), spaceID, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationResponse{ChatID: conv.ChatID, SpaceID: conv.SpaceID, Participants: conv.Participants})
}

func markRead(c *gin.Context, svc *conversation.Service) {
	spaceID, ok := pathID(c, "spaceId", "space")
	if !ok {
		return
	}
	if err := svc.MarkRead(c.Request.Context(), spaceID, security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type memberEdit func(ctx context.Context, spaceID uuid.UUID, ownerID string, userIDs []string) ([]model.ChatParticipant, error)

func editMembers(c *gin.Context, svc *conversation.Service, edit memberEdit) {
	spaceID, ok := pathID(c, "spaceId", "space")
	if !ok {
		return
	}
	var req struct {
		UserIDs []string `json:"userIds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	participants, err := edit(c.Request.Context(), spaceID, security.GetUserID(c), req.UserIDs)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": participants})
}

func listMessages(c *gin.Context, svc *conversation.Service) {
	chatID, ok := pathID(c, "chatId", "chat")
	if !ok {
		return
	}
	var before *uuid.UUID
	if v := c.Query("before"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid before cursor"})
			return
		}
		before = &id
	}
	limit, ok := queryInt(c, "limit", conversation.DefaultMessageLimit)
	if !ok {
		return
	}

	msgs, err := svc.Messages(c.Request.Context(), chatID, security.GetUserID(c), limit, before)
	if err != nil {
		handleError(c, err)
		return
	}
	var next *uuid.UUID
	if len(msgs) > 0 && len(msgs) >= conversation.PageLimit(limit) {
		next = &msgs[0].ID
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs, "before": next})
}

func postMessage(c *gin.Context, svc *conversation.Service) {
	chatID, ok := pathID(c, "chatId", "chat")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	msg, err := svc.PostMessage(c.Request.Context(), chatID, security.GetUserID(c), req.Body)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func unreadCounts(c *gin.Context, svc *conversation.Service) {
	counts, err := svc.UnreadCounts(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

func firstContact(c *gin.Context, svc *conversation.Service) {
	conv, err := svc.FirstContact(c.Request.Context(), security.GetUserID(c), c.Param("userId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationResponse{ChatID: conv.ChatID, SpaceID: conv.SpaceID, Participants: conv.Participants})
}

func pathID(c *gin.Context, param, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": resource + " not found"})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid " + key})
		return 0, false
	}
	return i, true
}
