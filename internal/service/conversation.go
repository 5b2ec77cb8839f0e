package service

import (
	"context"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// ConversationService is the composition root of the message flow: it
// expands recipients, resolves the thread, fans the message out and
// shapes the result. Handlers talk to this and to BatchUpdater only.
type ConversationService struct {
	repos        *repository.Repositories
	router       *Router
	fanout       *Fanout
	participants *ParticipantService
	batch        *BatchUpdater
	views        *ViewBuilder
	cfg          *config.ConversationsConfig
	log          *logger.Logger
}

// NewConversationService creates a new ConversationService
func NewConversationService(repos *repository.Repositories, router *Router, fanout *Fanout, participants *ParticipantService, batch *BatchUpdater, views *ViewBuilder, cfg *config.ConversationsConfig, log *logger.Logger) *ConversationService {
	return &ConversationService{
		repos:        repos,
		router:       router,
		fanout:       fanout,
		participants: participants,
		batch:        batch,
		views:        views,
		cfg:          cfg,
		log:          log,
	}
}

// CreateRequest is the create/append surface: either Recipients (create
// or dedup-reuse) or an explicit ConversationID (append).
type CreateRequest struct {
	SenderID            int64
	ConversationID      int64
	Recipients          []string
	Subject             string
	Body                string
	ContextCode         string
	IncludedMessageIDs  []int64
	ForwardedMessageIDs []int64
	AttachmentIDs       []int64
	MediaCommentID      string
	MediaCommentType    string
	GroupConversation   bool
	BulkMessage         bool
	ForceNew            bool
	Mode                string
}

// CreateResult is either the shaped conversation view or, for bulk
// individual sends, the batch handle to poll.
type CreateResult struct {
	View  *ConversationView         `json:"conversation,omitempty"`
	Batch *entity.ConversationBatch `json:"batch,omitempty"`
}

// Create starts or continues a conversation. Bulk individual sends to
// multiple recipients detach into a ConversationBatch; everything else
// resolves a thread and publishes the message synchronously enough to
// shape the sender's view.
func (s *ConversationService) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.ConversationID != 0 {
		view, err := s.Reply(ctx, req.SenderID, req.ConversationID, req)
		if err != nil {
			return nil, err
		}
		return &CreateResult{View: view}, nil
	}

	if len(req.Subject) > s.cfg.MaxSubjectLength {
		return nil, errcode.ErrSubjectTooLong.WithField("subject")
	}

	recipientIDs, err := s.router.ExpandRecipients(ctx, req.SenderID, req.Recipients)
	if err != nil {
		return nil, err
	}
	contextType, contextID, err := parseContextCode(req.ContextCode)
	if err != nil {
		return nil, err
	}

	if req.BulkMessage && !req.GroupConversation && len(recipientIDs) > 1 {
		batch, err := s.batch.BulkCreate(ctx, &BulkCreateRequest{
			SenderID:     req.SenderID,
			RecipientIDs: recipientIDs,
			Subject:      req.Subject,
			Body:         req.Body,
			ContextType:  contextType,
			ContextID:    contextID,
		})
		if err != nil {
			return nil, err
		}
		return &CreateResult{Batch: batch}, nil
	}

	ref, err := s.router.Resolve(ctx, &ResolveRequest{
		SenderID:          req.SenderID,
		RecipientIDs:      recipientIDs,
		ContextType:       contextType,
		ContextID:         contextID,
		Subject:           req.Subject,
		ForceNew:          req.ForceNew,
		GroupConversation: req.GroupConversation,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.fanout.AddMessage(ctx, &AddMessageRequest{
		ConversationID:      ref.GlobalID,
		AuthorID:            req.SenderID,
		Body:                req.Body,
		AttachmentIDs:       req.AttachmentIDs,
		MediaCommentID:      req.MediaCommentID,
		MediaCommentType:    req.MediaCommentType,
		ForwardedMessageIDs: req.ForwardedMessageIDs,
		Mode:                req.Mode,
	}); err != nil {
		return nil, err
	}

	if len(req.IncludedMessageIDs) > 0 {
		for _, userID := range recipientIDs {
			if err := s.fanout.ShareMessages(ctx, ref.GlobalID, userID, req.IncludedMessageIDs); err != nil {
				return nil, err
			}
		}
	}

	view, err := s.viewForUser(ctx, ref, req.SenderID, true)
	if err != nil {
		return nil, err
	}
	return &CreateResult{View: view}, nil
}

// Reply appends a message to a known conversation, optionally joining new
// recipients to a group thread first.
func (s *ConversationService) Reply(ctx context.Context, senderID, conversationID int64, req *CreateRequest) (*ConversationView, error) {
	if len(req.Recipients) > 0 {
		recipientIDs, err := s.router.ExpandRecipients(ctx, senderID, req.Recipients)
		if err != nil {
			return nil, err
		}
		if _, err := s.fanout.AddParticipants(ctx, conversationID, senderID, recipientIDs); err != nil {
			return nil, err
		}
	}

	if _, err := s.fanout.AddMessage(ctx, &AddMessageRequest{
		ConversationID:      conversationID,
		AuthorID:            senderID,
		Body:                req.Body,
		AttachmentIDs:       req.AttachmentIDs,
		MediaCommentID:      req.MediaCommentID,
		MediaCommentType:    req.MediaCommentType,
		ForwardedMessageIDs: req.ForwardedMessageIDs,
		Mode:                req.Mode,
	}); err != nil {
		return nil, err
	}

	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.viewForUser(ctx, ref, senderID, true)
}

// Get shapes one conversation for the acting user, messages included.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID int64) (*ConversationView, error) {
	p, ref, err := s.participants.GetForUser(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.views.Build(ctx, ref, p, true)
}

// List shapes the user's conversation listing, newest activity first.
func (s *ConversationService) List(ctx context.Context, userID int64, filter repository.ListFilter) ([]*ConversationView, error) {
	rows, err := s.participants.ListForUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*ConversationView, 0, len(rows))
	for _, p := range rows {
		ref, err := s.router.GetConversation(ctx, p.ConversationID)
		if err != nil {
			// A view pointing at a purged conversation is stale replica
			// data; skip it rather than failing the listing.
			s.log.Warnw("skipping stale participant row", "conversation_id", p.ConversationID, "user_id", userID)
			continue
		}
		view, err := s.views.Build(ctx, ref, p, false)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *ConversationService) viewForUser(ctx context.Context, ref *ConversationRef, userID int64, includeMessages bool) (*ConversationView, error) {
	p, err := s.repos.Participant.Get(ctx, ref.Shard.DB, ref.GlobalID, userID)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if p == nil {
		return nil, errcode.ErrNotParticipating
	}
	return s.views.Build(ctx, ref, p, includeMessages)
}

// parseContextCode parses an optional "course_7" style context reference.
func parseContextCode(code string) (string, int64, error) {
	if code == "" {
		return "", 0, nil
	}
	contextType, contextID, ok := entity.ParseAssetString(code)
	if !ok {
		return "", 0, errcode.ErrInvalidParam.WithField("context_code").WithMsg("invalid context code %q", code)
	}
	return contextType, contextID, nil
}
