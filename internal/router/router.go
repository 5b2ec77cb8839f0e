package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/rinario-studio/inboxd/internal/handler"
	"github.com/rinario-studio/inboxd/internal/middleware"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	Conversation *handler.ConversationHandler
	Batch        *handler.BatchHandler
}

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, handlers *Handlers) {
	h.Use(middleware.CORS())

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	convGroup := h.Group("/conversations")
	{
		convGroup.POST("", handlers.Conversation.CreateConversation)
		convGroup.GET("", handlers.Conversation.ListConversations)
		convGroup.PUT("", handlers.Batch.BatchUpdate)
		convGroup.GET("/unread_count", handlers.Conversation.UnreadCount)
		convGroup.GET("/:id", handlers.Conversation.GetConversation)
		convGroup.PUT("/:id", handlers.Conversation.UpdateConversation)
		convGroup.DELETE("/:id", handlers.Conversation.PurgeConversation)
		convGroup.POST("/:id/messages", handlers.Conversation.AddMessage)
		convGroup.POST("/:id/remove_messages", handlers.Conversation.RemoveMessages)
		convGroup.POST("/:id/delete_messages", handlers.Conversation.DeleteMessages)
		convGroup.POST("/:id/restore", handlers.Conversation.RestoreMessage)
	}

	h.GET("/progress/:id", handlers.Batch.GetProgress)
	h.GET("/batches/:id", handlers.Batch.GetBatch)
}
