package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/pkg/constant"
)

// ParticipantRepo is the repository for per-user conversation state rows.
// The same table holds the authoritative row (conversation shard) and the
// replica (user home shard); which one a method touches is decided by the
// db handle the caller passes in.
type ParticipantRepo struct{}

// NewParticipantRepo creates a new ParticipantRepo
func NewParticipantRepo() *ParticipantRepo {
	return &ParticipantRepo{}
}

// Get gets the participant row for (conversation, user)
func (r *ParticipantRepo) Get(ctx context.Context, db *gorm.DB, conversationID, userID int64) (*entity.ConversationParticipant, error) {
	var p entity.ConversationParticipant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Create creates a participant row
func (r *ParticipantRepo) Create(ctx context.Context, tx *gorm.DB, p *entity.ConversationParticipant) error {
	now := entity.NowUnixMilli()
	p.CreatedAt = now
	p.UpdatedAt = now
	return tx.WithContext(ctx).Create(p).Error
}

// Save persists all fields of the participant row
func (r *ParticipantRepo) Save(ctx context.Context, db *gorm.DB, p *entity.ConversationParticipant) error {
	p.UpdatedAt = entity.NowUnixMilli()
	return db.WithContext(ctx).Save(p).Error
}

// Upsert writes a replica of the participant state keyed by
// (conversation_id, user_id). Used for cross-shard copies and for lazy
// repair of lost replicas; the authoritative row's fields win wholesale.
func (r *ParticipantRepo) Upsert(ctx context.Context, db *gorm.DB, p *entity.ConversationParticipant) error {
	row := *p
	row.ID = 0 // replica rows get their own local id
	row.UpdatedAt = entity.NowUnixMilli()
	if row.CreatedAt == 0 {
		row.CreatedAt = row.UpdatedAt
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"workflow_state", "label", "subscribed", "message_count",
			"last_message_at", "last_authored_at", "visible_last_authored_at",
			"has_attachments", "has_media_objects", "tags", "private_hash",
			"root_account_ids", "updated_at",
		}),
	}).Create(&row).Error
}

// Delete removes the participant row for (conversation, user)
func (r *ParticipantRepo) Delete(ctx context.Context, db *gorm.DB, conversationID, userID int64) error {
	return db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&entity.ConversationParticipant{}).Error
}

// UserIDsForConversation lists the user ids participating in the
// conversation, in join order. Must run against the conversation shard.
func (r *ParticipantRepo) UserIDsForConversation(ctx context.Context, db *gorm.DB, conversationID int64) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&entity.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// CountForConversation counts participants. Must run against the
// conversation shard, where the authoritative rows are.
func (r *ParticipantRepo) CountForConversation(ctx context.Context, db *gorm.DB, conversationID int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&entity.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

// ListFilter narrows per-user listings.
type ListFilter struct {
	States      []string // workflow states; empty means read+unread
	Starred     bool
	OnlyVisible bool
}

// ListForUser lists a user's participant rows from their home shard,
// newest activity first.
func (r *ParticipantRepo) ListForUser(ctx context.Context, db *gorm.DB, userID int64, filter ListFilter) ([]*entity.ConversationParticipant, error) {
	scope := db.WithContext(ctx).
		Where("user_id = ?", userID)
	if len(filter.States) > 0 {
		scope = scope.Where("workflow_state IN ?", filter.States)
	} else {
		scope = scope.Where("workflow_state IN ?", []string{
			constant.ParticipantStateRead, constant.ParticipantStateUnread,
		})
	}
	if filter.Starred {
		scope = scope.Where("label = ?", constant.LabelStarred)
	}
	if filter.OnlyVisible {
		scope = scope.Where("last_message_at IS NOT NULL")
	}

	var rows []*entity.ConversationParticipant
	err := scope.Order("last_message_at DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
