package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// ParticipantService applies per-user workflow transitions to one
// conversation: the read/unread/star/archive/destroy events, message
// removal and restore, and the subscription toggle. The batch path runs
// the exact same single-item logic.
type ParticipantService struct {
	repos    *repository.Repositories
	partRepo *repository.ParticipantRepo
	msgRepo  *repository.MessageRepo
	router   *Router
	state    *StateCache
	log      *logger.Logger
}

// NewParticipantService creates a new ParticipantService
func NewParticipantService(repos *repository.Repositories, router *Router, state *StateCache, log *logger.Logger) *ParticipantService {
	return &ParticipantService{
		repos:    repos,
		partRepo: repos.Participant,
		msgRepo:  repos.Message,
		router:   router,
		state:    state,
		log:      log,
	}
}

// UpdateOne applies one workflow event to the user's view of a
// conversation. Returns ErrNotParticipating when the user has no
// participant row, which batch processing records as a skip.
func (s *ParticipantService) UpdateOne(ctx context.Context, userID, conversationID int64, event string) error {
	if !constant.IsBatchEvent(event) {
		return errcode.ErrInvalidEvent.WithField("event")
	}
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if event == constant.EventDestroy {
		return s.destroy(ctx, ref, userID)
	}

	var p *entity.ConversationParticipant
	var wasUnread bool
	err = s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		p, err = s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrNotParticipating
		}
		wasUnread = p.Unread()

		switch event {
		case constant.EventMarkAsRead:
			p.WorkflowState = constant.ParticipantStateRead
		case constant.EventMarkAsUnread:
			p.WorkflowState = constant.ParticipantStateUnread
		case constant.EventArchive:
			p.WorkflowState = constant.ParticipantStateArchived
		case constant.EventStar:
			p.SetStarred(true)
		case constant.EventUnstar:
			p.SetStarred(false)
		}
		return s.partRepo.Save(ctx, tx, p)
	})
	if err != nil {
		return asServiceError(err)
	}

	s.afterSave(ctx, ref, p, wasUnread)
	return nil
}

// destroy removes the user's view entirely: every join row, the
// authoritative participant row, and the home-shard replica.
func (s *ParticipantService) destroy(ctx context.Context, ref *ConversationRef, userID int64) error {
	var wasUnread bool
	err := s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		p, err := s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrNotParticipating
		}
		wasUnread = p.Unread()
		if err := s.msgRepo.HardDeleteParticipants(ctx, tx, ref.GlobalID, userID, nil); err != nil {
			return err
		}
		return s.partRepo.Delete(ctx, tx, ref.GlobalID, userID)
	})
	if err != nil {
		return asServiceError(err)
	}

	if err := s.state.DropReplica(ctx, ref.Shard, ref.GlobalID, userID); err != nil {
		s.log.Warnw("replica delete failed", "conversation_id", ref.GlobalID, "user_id", userID, "err", err)
	}
	if wasUnread {
		s.repos.Cache.DecrUnread(ctx, userID)
	}
	s.repos.Cache.InvalidateParticipants(ctx, ref.GlobalID)
	return nil
}

// RemoveMessages soft-deletes the given messages from the user's view, or
// every message when messageIDs is empty. When only generated event
// messages would remain visible, the whole tail collapses: everything is
// hard-deleted instead.
func (s *ParticipantService) RemoveMessages(ctx context.Context, userID, conversationID int64, messageIDs []int64) error {
	return s.removeOrDelete(ctx, userID, conversationID, messageIDs, false)
}

// DeleteMessages hard-deletes the given join rows (or all of them),
// leaving no trace in the user's view. The message rows themselves are
// retained for the other participants.
func (s *ParticipantService) DeleteMessages(ctx context.Context, userID, conversationID int64, messageIDs []int64) error {
	return s.removeOrDelete(ctx, userID, conversationID, messageIDs, true)
}

func (s *ParticipantService) removeOrDelete(ctx context.Context, userID, conversationID int64, messageIDs []int64, hard bool) error {
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	localIDs := localMessageIDs(messageIDs)

	var p *entity.ConversationParticipant
	var wasUnread bool
	err = s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		p, err = s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrNotParticipating
		}
		wasUnread = p.Unread()

		if hard {
			if err := s.msgRepo.HardDeleteParticipants(ctx, tx, ref.GlobalID, userID, localIDs); err != nil {
				return err
			}
		} else {
			if err := s.msgRepo.SoftDeleteParticipants(ctx, tx, ref.GlobalID, userID, localIDs); err != nil {
				return err
			}
		}

		// A view holding only generated event messages is meaningless;
		// collapse it to nothing. A fully soft-deleted view stays, so a
		// later restore still has rows to flip back.
		humanLeft, err := s.msgRepo.ActiveHumanExists(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if !humanLeft {
			activeLeft, err := s.msgRepo.ActiveExists(ctx, tx, ref.GlobalID, userID)
			if err != nil {
				return err
			}
			if activeLeft {
				if err := s.msgRepo.HardDeleteParticipants(ctx, tx, ref.GlobalID, userID, nil); err != nil {
					return err
				}
			}
		}

		if _, err := s.state.Recompute(ctx, tx, ref.Conversation, ref.GlobalID, p, entity.DefaultRecomputeOptions()); err != nil {
			return err
		}
		return s.partRepo.Save(ctx, tx, p)
	})
	if err != nil {
		return asServiceError(err)
	}

	s.afterSave(ctx, ref, p, wasUnread)
	return nil
}

// RestoreMessage flips one soft-deleted join row back to active and
// refreshes the cached state from the restored view.
func (s *ParticipantService) RestoreMessage(ctx context.Context, userID, conversationID, messageID int64) error {
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	_, localID := sharding.SplitGlobalID(messageID)

	var p *entity.ConversationParticipant
	var wasUnread bool
	err = s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		if err := s.msgRepo.RestoreParticipant(ctx, tx, ref.GlobalID, userID, localID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return errcode.ErrMessageNotFound.WithField("message_id")
			}
			return err
		}
		p, err = s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrNotParticipating
		}
		wasUnread = p.Unread()
		if _, err := s.state.Recompute(ctx, tx, ref.Conversation, ref.GlobalID, p, entity.DefaultRecomputeOptions()); err != nil {
			return err
		}
		return s.partRepo.Save(ctx, tx, p)
	})
	if err != nil {
		return asServiceError(err)
	}

	s.afterSave(ctx, ref, p, wasUnread)
	return nil
}

// SetSubscribed toggles the group-thread subscription. Unsubscribing
// reads the thread and freezes its position; resubscribing refreshes the
// frozen fields and goes back to unread when messages arrived meanwhile.
// Private threads cannot be unsubscribed.
func (s *ParticipantService) SetSubscribed(ctx context.Context, userID, conversationID int64, subscribed bool) error {
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if ref.Conversation.Private() {
		return nil
	}

	var p *entity.ConversationParticipant
	var wasUnread bool
	err = s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		p, err = s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
		if err != nil {
			return err
		}
		if p == nil {
			return errcode.ErrNotParticipating
		}
		if p.Subscribed == subscribed {
			p = nil
			return nil
		}
		wasUnread = p.Unread()

		if !subscribed {
			p.Subscribed = false
			if p.Unread() {
				p.WorkflowState = constant.ParticipantStateRead
			}
			return s.partRepo.Save(ctx, tx, p)
		}

		p.Subscribed = true
		oldLast := p.LastMessageAt
		opts := entity.RecomputeOptions{}
		if _, err := s.state.Recompute(ctx, tx, ref.Conversation, ref.GlobalID, p, opts); err != nil {
			return err
		}
		if p.WorkflowState == constant.ParticipantStateRead && advanced(oldLast, p.LastMessageAt) {
			p.WorkflowState = constant.ParticipantStateUnread
		}
		return s.partRepo.Save(ctx, tx, p)
	})
	if err != nil {
		return asServiceError(err)
	}
	if p == nil {
		return nil
	}

	s.afterSave(ctx, ref, p, wasUnread)
	return nil
}

// GetForUser loads one participant view, preferring the user's home-shard
// replica and falling back to the authoritative row on the conversation
// shard. A replica found missing is rewritten on the spot.
func (s *ParticipantService) GetForUser(ctx context.Context, userID, conversationID int64) (*entity.ConversationParticipant, *ConversationRef, error) {
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	home := s.repos.Cluster.HomeShard(userID)
	if home.ID != ref.Shard.ID {
		p, err := s.partRepo.Get(ctx, home.DB, ref.GlobalID, userID)
		if err != nil {
			return nil, nil, errcode.ErrInternalServer.Wrap(err)
		}
		if p != nil {
			return p, ref, nil
		}
	}
	p, err := s.partRepo.Get(ctx, ref.Shard.DB, ref.GlobalID, userID)
	if err != nil {
		return nil, nil, errcode.ErrInternalServer.Wrap(err)
	}
	if p == nil {
		return nil, nil, errcode.ErrNotParticipating
	}
	if home.ID != ref.Shard.ID {
		s.router.RepairReplica(ctx, ref, p)
	}
	return p, ref, nil
}

// ListForUser lists the user's conversation views from their home shard.
func (s *ParticipantService) ListForUser(ctx context.Context, userID int64, filter repository.ListFilter) ([]*entity.ConversationParticipant, error) {
	home := s.repos.Cluster.HomeShard(userID)
	rows, err := s.partRepo.ListForUser(ctx, home.DB, userID, filter)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	return rows, nil
}

// UnreadCount returns the user's cached unread-conversation counter.
func (s *ParticipantService) UnreadCount(ctx context.Context, userID int64) int64 {
	return s.repos.Cache.GetUnread(ctx, userID)
}

// PurgeResult reports what an administrative purge removed.
type PurgeResult struct {
	MessagesPurged     int `json:"messages_purged"`
	ParticipantsPurged int `json:"participants_purged"`
}

// PurgeConversation deletes a conversation for every participant:
// messages, join rows, participant rows, replicas, and the conversation
// record itself. Administrative surface; there is no undo.
func (s *ParticipantService) PurgeConversation(ctx context.Context, conversationID int64) (*PurgeResult, error) {
	ref, err := s.router.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgIDs, err := s.msgRepo.MessageIDsForConversation(ctx, ref.Shard.DB, ref.GlobalID)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	var views []*entity.ConversationParticipant
	err = s.repos.Transaction(ctx, ref.Shard, func(tx *gorm.DB) error {
		userIDs, err := s.partRepo.UserIDsForConversation(ctx, tx, ref.GlobalID)
		if err != nil {
			return err
		}
		for _, userID := range userIDs {
			p, err := s.partRepo.Get(ctx, tx, ref.GlobalID, userID)
			if err != nil {
				return err
			}
			if p == nil {
				continue
			}
			views = append(views, p)
			if err := s.partRepo.Delete(ctx, tx, ref.GlobalID, userID); err != nil {
				return err
			}
		}
		if err := s.msgRepo.PurgeConversation(ctx, tx, ref.GlobalID); err != nil {
			return err
		}
		return s.repos.Conversation.Delete(ctx, tx, ref.Conversation.ID)
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	for _, p := range views {
		if err := s.state.DropReplica(ctx, ref.Shard, ref.GlobalID, p.UserID); err != nil {
			s.log.Warnw("replica delete failed", "conversation_id", ref.GlobalID, "user_id", p.UserID, "err", err)
		}
		if p.Unread() {
			s.repos.Cache.DecrUnread(ctx, p.UserID)
		}
	}
	s.repos.Cache.InvalidateParticipants(ctx, ref.GlobalID)

	return &PurgeResult{
		MessagesPurged:     len(msgIDs),
		ParticipantsPurged: len(views),
	}, nil
}

// afterSave handles the cross-shard and cache writes that follow a
// committed participant save.
func (s *ParticipantService) afterSave(ctx context.Context, ref *ConversationRef, p *entity.ConversationParticipant, wasUnread bool) {
	if err := s.state.SyncReplica(ctx, ref.Shard, p); err != nil {
		s.log.Warnw("replica write failed", "conversation_id", ref.GlobalID, "user_id", p.UserID, "err", err)
	}
	switch {
	case !wasUnread && p.Unread():
		s.repos.Cache.IncrUnread(ctx, p.UserID)
	case wasUnread && !p.Unread():
		s.repos.Cache.DecrUnread(ctx, p.UserID)
	}
}

// asServiceError passes business errors through and wraps everything else
// as internal.
func asServiceError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errcode.Error); ok {
		return err
	}
	return errcode.ErrInternalServer.Wrap(err)
}

func localMessageIDs(globalIDs []int64) []int64 {
	if len(globalIDs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(globalIDs))
	for _, id := range globalIDs {
		_, localID := sharding.SplitGlobalID(id)
		out = append(out, localID)
	}
	return out
}

func advanced(prev, cur *int64) bool {
	if cur == nil {
		return false
	}
	if prev == nil {
		return true
	}
	return *cur > *prev
}
