package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
)

// StateCache refreshes a participant's denormalized fields from the
// authoritative join rows. The derivation itself is a pure function in
// the entity package; this wrapper loads the visible rows and runs it
// inside whatever transaction the caller already holds.
type StateCache struct {
	msgRepo  *repository.MessageRepo
	partRepo *repository.ParticipantRepo
	cluster  *sharding.Cluster
}

// NewStateCache creates a new StateCache
func NewStateCache(repos *repository.Repositories) *StateCache {
	return &StateCache{
		msgRepo:  repos.Message,
		partRepo: repos.Participant,
		cluster:  repos.Cluster,
	}
}

// Recompute refreshes the participant's cached fields. db must be a
// handle (or open transaction) on the conversation's shard, where the
// join rows live. Does not persist; the caller saves in the same
// transaction as the mutation that made the fields stale. Returns the
// latest visible human message.
func (s *StateCache) Recompute(ctx context.Context, db *gorm.DB, conv *entity.Conversation, convGlobalID int64, p *entity.ConversationParticipant, opts entity.RecomputeOptions) (*entity.ConversationMessage, error) {
	visible, err := s.msgRepo.VisibleViews(ctx, db, convGlobalID, p.UserID)
	if err != nil {
		return nil, err
	}
	latest := entity.RecomputeState(p, visible, conv.Private(), opts)
	return latest, nil
}

// RefreshLastAuthoredAt sets the participant's last_authored_at from the
// newest message they authored, regardless of visibility. Deleting a
// message for yourself does not un-author it for others.
func (s *StateCache) RefreshLastAuthoredAt(ctx context.Context, db *gorm.DB, convGlobalID int64, p *entity.ConversationParticipant) error {
	msg, err := s.msgRepo.NewestAuthoredHuman(ctx, db, convGlobalID, p.UserID)
	if err != nil {
		return err
	}
	if msg == nil {
		p.LastAuthoredAt = nil
		return nil
	}
	t := msg.CreatedAt
	p.LastAuthoredAt = &t
	return nil
}

// SyncReplica copies the authoritative participant row to the user's home
// shard when it differs from the conversation shard. Replica writes are
// outside the conversation-shard transaction on purpose: the
// authoritative row wins, and a lost replica is repaired lazily.
func (s *StateCache) SyncReplica(ctx context.Context, convShard *sharding.Shard, p *entity.ConversationParticipant) error {
	home := s.cluster.HomeShard(p.UserID)
	if home.ID == convShard.ID {
		return nil
	}
	return s.partRepo.Upsert(ctx, home.DB, p)
}

// DropReplica removes the user's home-shard copy after the authoritative
// row was destroyed.
func (s *StateCache) DropReplica(ctx context.Context, convShard *sharding.Shard, convGlobalID, userID int64) error {
	home := s.cluster.HomeShard(userID)
	if home.ID == convShard.ID {
		return nil
	}
	return s.partRepo.Delete(ctx, home.DB, convGlobalID, userID)
}
