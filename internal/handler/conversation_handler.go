package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/rinario-studio/inboxd/internal/middleware"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/service"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/response"
)

// ConversationHandler handles conversation-related requests
type ConversationHandler struct {
	convService  *service.ConversationService
	participants *service.ParticipantService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(convService *service.ConversationService, participants *service.ParticipantService) *ConversationHandler {
	return &ConversationHandler{convService: convService, participants: participants}
}

// CreateConversationRequest is the create/append request body.
type CreateConversationRequest struct {
	ConversationID      int64    `json:"conversation_id"`
	Recipients          []string `json:"recipients"`
	Subject             string   `json:"subject"`
	Body                string   `json:"body"`
	ContextCode         string   `json:"context_code"`
	IncludedMessageIDs  []int64  `json:"included_message_ids"`
	ForwardedMessageIDs []int64  `json:"forwarded_message_ids"`
	AttachmentIDs       []int64  `json:"attachment_ids"`
	MediaCommentID      string   `json:"media_comment_id"`
	MediaCommentType    string   `json:"media_comment_type"`
	GroupConversation   bool     `json:"group_conversation"`
	BulkMessage         bool     `json:"bulk_message"`
	ForceNew            bool     `json:"force_new"`
	Mode                string   `json:"mode"`
}

// CreateConversation handles create/append requests
func (h *ConversationHandler) CreateConversation(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}

	var req CreateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	result, err := h.convService.Create(ctx, &service.CreateRequest{
		SenderID:            userID,
		ConversationID:      req.ConversationID,
		Recipients:          req.Recipients,
		Subject:             req.Subject,
		Body:                req.Body,
		ContextCode:         req.ContextCode,
		IncludedMessageIDs:  req.IncludedMessageIDs,
		ForwardedMessageIDs: req.ForwardedMessageIDs,
		AttachmentIDs:       req.AttachmentIDs,
		MediaCommentID:      req.MediaCommentID,
		MediaCommentType:    req.MediaCommentType,
		GroupConversation:   req.GroupConversation,
		BulkMessage:         req.BulkMessage,
		ForceNew:            req.ForceNew,
		Mode:                req.Mode,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// AddMessage handles appending a message to a known conversation
func (h *ConversationHandler) AddMessage(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	var req CreateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	view, err := h.convService.Reply(ctx, userID, conversationID, &service.CreateRequest{
		SenderID:            userID,
		Recipients:          req.Recipients,
		Body:                req.Body,
		AttachmentIDs:       req.AttachmentIDs,
		MediaCommentID:      req.MediaCommentID,
		MediaCommentType:    req.MediaCommentType,
		ForwardedMessageIDs: req.ForwardedMessageIDs,
		Mode:                req.Mode,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, view)
}

// ListConversations handles the per-user listing. scope narrows to
// unread, starred or archived views.
func (h *ConversationHandler) ListConversations(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}

	var filter repository.ListFilter
	switch c.Query("scope") {
	case "unread":
		filter.States = []string{constant.ParticipantStateUnread}
	case "archived":
		filter.States = []string{constant.ParticipantStateArchived}
	case "starred":
		filter.Starred = true
	}
	filter.OnlyVisible = true

	views, err := h.convService.List(ctx, userID, filter)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, views)
}

// GetConversation handles the single-conversation view
func (h *ConversationHandler) GetConversation(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	view, err := h.convService.Get(ctx, userID, conversationID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, view)
}

// UpdateConversationRequest is the single-conversation update body.
// Either an event or a subscription change.
type UpdateConversationRequest struct {
	Event      string `json:"event"`
	Subscribed *bool  `json:"subscribed"`
}

// UpdateConversation applies one workflow event or subscription toggle
// to the acting user's view
func (h *ConversationHandler) UpdateConversation(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	var req UpdateConversationRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if req.Subscribed != nil {
		if err := h.participants.SetSubscribed(ctx, userID, conversationID, *req.Subscribed); err != nil {
			response.Error(ctx, c, err)
			return
		}
	}
	if req.Event != "" {
		if err := h.participants.UpdateOne(ctx, userID, conversationID, req.Event); err != nil {
			response.Error(ctx, c, err)
			return
		}
	}
	if req.Event == constant.EventDestroy {
		response.Success(ctx, c, nil)
		return
	}

	view, err := h.convService.Get(ctx, userID, conversationID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, view)
}

// MessageSelectionRequest names messages within one conversation. An
// empty list with All set targets every message.
type MessageSelectionRequest struct {
	MessageIDs []int64 `json:"message_ids"`
	All        bool    `json:"all"`
}

// RemoveMessages soft-deletes messages from the acting user's view
func (h *ConversationHandler) RemoveMessages(ctx context.Context, c *app.RequestContext) {
	h.removeOrDelete(ctx, c, false)
}

// DeleteMessages hard-deletes messages from the acting user's view
func (h *ConversationHandler) DeleteMessages(ctx context.Context, c *app.RequestContext) {
	h.removeOrDelete(ctx, c, true)
}

func (h *ConversationHandler) removeOrDelete(ctx context.Context, c *app.RequestContext, hard bool) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	var req MessageSelectionRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	if len(req.MessageIDs) == 0 && !req.All {
		response.ErrorWithCode(ctx, c, errcode.ErrMissingField.WithField("message_ids"))
		return
	}

	var err error
	if hard {
		err = h.participants.DeleteMessages(ctx, userID, conversationID, req.MessageIDs)
	} else {
		err = h.participants.RemoveMessages(ctx, userID, conversationID, req.MessageIDs)
	}
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// RestoreMessageRequest restores one soft-deleted message. All three
// identifiers are required.
type RestoreMessageRequest struct {
	UserID    int64 `json:"user_id"`
	MessageID int64 `json:"message_id"`
}

// RestoreMessage handles restore requests
func (h *ConversationHandler) RestoreMessage(ctx context.Context, c *app.RequestContext) {
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrMissingField.WithField("conversation_id"))
		return
	}

	var req RestoreMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	if req.UserID == 0 {
		response.ErrorWithCode(ctx, c, errcode.ErrMissingField.WithField("user_id"))
		return
	}
	if req.MessageID == 0 {
		response.ErrorWithCode(ctx, c, errcode.ErrMissingField.WithField("message_id"))
		return
	}

	if err := h.participants.RestoreMessage(ctx, req.UserID, conversationID, req.MessageID); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// PurgeConversation deletes the conversation for every participant.
// Administrative endpoint; the gateway restricts who reaches it.
func (h *ConversationHandler) PurgeConversation(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam.WithField("id"))
		return
	}

	result, err := h.participants.PurgeConversation(ctx, conversationID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, result)
}

// UnreadCount returns the acting user's unread-conversation counter
func (h *ConversationHandler) UnreadCount(ctx context.Context, c *app.RequestContext) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(ctx, c, "")
		return
	}
	response.Success(ctx, c, map[string]int64{"unread_count": h.participants.UnreadCount(ctx, userID)})
}

func pathID(c *app.RequestContext, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
