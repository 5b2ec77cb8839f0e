package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/rinario-studio/inboxd/internal/middleware"
	"github.com/rinario-studio/inboxd/internal/service"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/response"
)

// BatchHandler handles batch updates and async progress polling
type BatchHandler struct {
	batch *service.BatchUpdater
}

// NewBatchHandler creates a new BatchHandler
func NewBatchHandler(batch *service.BatchUpdater) *BatchHandler {
	return &BatchHandler{batch: batch}
}

// BatchUpdateRequest applies one event to many conversations.
type BatchUpdateRequest struct {
	Event           string  `json:"event"`
	ConversationIDs []int64 `json:"conversation_ids"`
}

// BatchUpdate handles bulk workflow transitions; returns a Progress
// handle to poll
func (h *BatchHandler) BatchUpdate(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}

	var req BatchUpdateRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	progress, err := h.batch.BatchUpdate(ctx, userID, req.Event, req.ConversationIDs)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, progress)
}

// GetProgress handles progress polling
func (h *BatchHandler) GetProgress(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	token := c.Param("id")
	if token == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	progress, err := h.batch.GetProgress(ctx, userID, token)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, progress)
}

// GetBatch handles conversation-batch polling
func (h *BatchHandler) GetBatch(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	token := c.Param("id")
	if token == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	batch, err := h.batch.GetBatch(ctx, userID, token)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, batch)
}
