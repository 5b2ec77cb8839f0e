package service

import (
	"context"
	"strconv"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// ConversationView is the canonical shaped result for one user's view of
// a conversation.
type ConversationView struct {
	ID                    int64                        `json:"id"`
	Subject               string                       `json:"subject"`
	WorkflowState         string                       `json:"workflow_state"`
	LastMessage           string                       `json:"last_message,omitempty"`
	LastMessageAt         *int64                       `json:"last_message_at,omitempty"`
	LastAuthoredMessage   string                       `json:"last_authored_message,omitempty"`
	LastAuthoredMessageAt *int64                       `json:"last_authored_message_at,omitempty"`
	MessageCount          int                          `json:"message_count"`
	Subscribed            bool                         `json:"subscribed"`
	Private               bool                         `json:"private"`
	Starred               bool                         `json:"starred"`
	Properties            []string                     `json:"properties"`
	Audience              []int64                      `json:"audience"`
	AudienceContexts      AudienceContexts             `json:"audience_contexts"`
	Participants          []int64                      `json:"participants"`
	Messages              []*entity.ConversationMessage `json:"messages,omitempty"`
}

// AudienceContexts groups the conversation's tags by context kind, keyed
// by context id. Role lists are resolved by the enrollment system; the
// core only records membership.
type AudienceContexts struct {
	Courses map[string][]string `json:"courses"`
	Groups  map[string][]string `json:"groups"`
}

// ViewBuilder shapes participant rows into the external contract.
type ViewBuilder struct {
	msgRepo *repository.MessageRepo
	router  *Router
	cfg     *config.ConversationsConfig
	log     *logger.Logger
}

// NewViewBuilder creates a new ViewBuilder
func NewViewBuilder(repos *repository.Repositories, router *Router, cfg *config.ConversationsConfig, log *logger.Logger) *ViewBuilder {
	return &ViewBuilder{
		msgRepo: repos.Message,
		router:  router,
		cfg:     cfg,
		log:     log,
	}
}

// Build shapes one participant's view. includeMessages loads the full
// visible message list; listings pass false and get previews only.
func (v *ViewBuilder) Build(ctx context.Context, ref *ConversationRef, p *entity.ConversationParticipant, includeMessages bool) (*ConversationView, error) {
	audience, err := v.router.ParticipantIDs(ctx, ref)
	if err != nil {
		return nil, err
	}
	visible, err := v.msgRepo.VisibleViews(ctx, ref.Shard.DB, ref.GlobalID, p.UserID)
	if err != nil {
		return nil, err
	}

	var latest, lastAuthored *entity.ConversationMessage
	for i := range visible {
		m := &visible[i].Message
		if !m.Human() {
			continue
		}
		if latest == nil {
			latest = m
		}
		if lastAuthored == nil && m.AuthorID == p.UserID {
			lastAuthored = m
		}
		if latest != nil && lastAuthored != nil {
			break
		}
	}

	view := &ConversationView{
		ID:               ref.GlobalID,
		Subject:          ref.Conversation.Subject,
		WorkflowState:    p.WorkflowState,
		LastMessageAt:    p.LastMessageAt,
		MessageCount:     p.MessageCount,
		Subscribed:       p.Subscribed,
		Private:          ref.Conversation.Private(),
		Starred:          p.Starred(),
		Properties:       p.Properties(latest),
		Audience:         recipientsExcept(audience, p.UserID),
		AudienceContexts: audienceContexts(p.Tags),
		Participants:     audience,
	}
	if latest != nil {
		view.LastMessage = v.preview(latest.Body)
	}
	if lastAuthored != nil {
		view.LastAuthoredMessage = v.preview(lastAuthored.Body)
		t := lastAuthored.CreatedAt
		view.LastAuthoredMessageAt = &t
	}

	if includeMessages {
		msgs := make([]*entity.ConversationMessage, 0, len(visible))
		for i := range visible {
			m := visible[i].Message
			m.ID = ref.Shard.GlobalID(m.ID)
			msgs = append(msgs, &m)
		}
		view.Messages = msgs
	}
	return view, nil
}

// preview truncates a message body for listing previews.
func (v *ViewBuilder) preview(body string) string {
	limit := v.cfg.LastMessagePreviewLength
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit])
}

func audienceContexts(tags []string) AudienceContexts {
	out := AudienceContexts{
		Courses: map[string][]string{},
		Groups:  map[string][]string{},
	}
	for _, tag := range tags {
		contextType, contextID, ok := entity.ParseAssetString(tag)
		if !ok {
			continue
		}
		key := strconv.FormatInt(contextID, 10)
		switch contextType {
		case constant.ContextTypeCourse:
			out.Courses[key] = []string{}
		case constant.ContextTypeGroup:
			out.Groups[key] = []string{}
		}
	}
	return out
}
