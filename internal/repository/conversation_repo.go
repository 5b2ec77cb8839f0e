package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/entity"
)

// ConversationRepo is the repository for conversation rows. All methods
// take the shard database (or transaction) explicitly; there is no
// ambient shard selection.
type ConversationRepo struct{}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{}
}

// Create creates a new conversation
func (r *ConversationRepo) Create(ctx context.Context, db *gorm.DB, conv *entity.Conversation) error {
	now := entity.NowUnixMilli()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return db.WithContext(ctx).Create(conv).Error
}

// GetByLocalID gets a conversation by its shard-local id
func (r *ConversationRepo) GetByLocalID(ctx context.Context, db *gorm.DB, localID int64) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := db.WithContext(ctx).Where("id = ?", localID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// FindByPrivateHash finds a private conversation by its dedup key.
// Returns nil when no thread with that hash exists on this shard.
func (r *ConversationRepo) FindByPrivateHash(ctx context.Context, db *gorm.DB, hash string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := db.WithContext(ctx).Where("private_hash = ?", hash).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// Save persists all fields of the conversation
func (r *ConversationRepo) Save(ctx context.Context, db *gorm.DB, conv *entity.Conversation) error {
	conv.UpdatedAt = entity.NowUnixMilli()
	return db.WithContext(ctx).Save(conv).Error
}

// Touch updates the updated_at timestamp
func (r *ConversationRepo) Touch(ctx context.Context, db *gorm.DB, localID int64) error {
	return db.WithContext(ctx).
		Model(&entity.Conversation{}).
		Where("id = ?", localID).
		Update("updated_at", entity.NowUnixMilli()).Error
}

// Delete hard-deletes a conversation row. Only the admin purge path uses
// this; message and participant rows are removed by their own repos first.
func (r *ConversationRepo) Delete(ctx context.Context, db *gorm.DB, localID int64) error {
	return db.WithContext(ctx).Where("id = ?", localID).Delete(&entity.Conversation{}).Error
}
