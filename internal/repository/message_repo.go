package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/pkg/constant"
)

// MessageRepo is the repository for message rows and the per-recipient
// join rows that grant visibility. Both live on the conversation's shard.
type MessageRepo struct{}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo() *MessageRepo {
	return &MessageRepo{}
}

// Create creates a new message row
func (r *MessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *entity.ConversationMessage) error {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = entity.NowUnixMilli()
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetByID gets a message by id
func (r *MessageRepo) GetByID(ctx context.Context, db *gorm.DB, id int64) (*entity.ConversationMessage, error) {
	var msg entity.ConversationMessage
	err := db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetByIDs gets messages by id, newest first
func (r *MessageRepo) GetByIDs(ctx context.Context, db *gorm.DB, ids []int64) ([]*entity.ConversationMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []*entity.ConversationMessage
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at DESC, id DESC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// VisibleViews returns the messages currently visible to one user in one
// conversation, joined with the user's tags from the join rows, ordered
// newest first (created_at, then id, which is monotonic within a shard).
func (r *MessageRepo) VisibleViews(ctx context.Context, db *gorm.DB, conversationID, userID int64) ([]entity.MessageView, error) {
	var joins []entity.ConversationMessageParticipant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND workflow_state = ?",
			conversationID, userID, constant.MessageParticipantActive).
		Find(&joins).Error
	if err != nil {
		return nil, err
	}
	if len(joins) == 0 {
		return nil, nil
	}

	tagsByMsg := make(map[int64][]string, len(joins))
	ids := make([]int64, 0, len(joins))
	for i := range joins {
		tagsByMsg[joins[i].ConversationMessageID] = joins[i].Tags
		ids = append(ids, joins[i].ConversationMessageID)
	}

	var msgs []entity.ConversationMessage
	err = db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at DESC, id DESC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	views := make([]entity.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, entity.MessageView{Message: m, Tags: tagsByMsg[m.ID]})
	}
	return views, nil
}

// NewestAuthoredHuman returns the newest non-generated message authored
// by the given user in the conversation, regardless of visibility. Used
// for the last_authored_at field other participants see.
func (r *MessageRepo) NewestAuthoredHuman(ctx context.Context, db *gorm.DB, conversationID, authorID int64) (*entity.ConversationMessage, error) {
	var msg entity.ConversationMessage
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND author_id = ? AND generated = ?", conversationID, authorID, false).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// CreateParticipants inserts join rows, skipping ones that already exist
// so re-sharing a known message stays idempotent.
func (r *MessageRepo) CreateParticipants(ctx context.Context, tx *gorm.DB, rows []*entity.ConversationMessageParticipant) error {
	if len(rows) == 0 {
		return nil
	}
	now := entity.NowUnixMilli()
	for _, row := range rows {
		if row.CreatedAt == 0 {
			row.CreatedAt = now
		}
		if row.WorkflowState == "" {
			row.WorkflowState = constant.MessageParticipantActive
		}
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(rows).Error
}

// SoftDeleteParticipants marks the user's join rows deleted for the given
// message ids, or all of the user's rows in the conversation when
// messageIDs is empty.
func (r *MessageRepo) SoftDeleteParticipants(ctx context.Context, tx *gorm.DB, conversationID, userID int64, messageIDs []int64) error {
	scope := tx.WithContext(ctx).
		Model(&entity.ConversationMessageParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID)
	if len(messageIDs) > 0 {
		scope = scope.Where("conversation_message_id IN ?", messageIDs)
	}
	now := entity.NowUnixMilli()
	return scope.Updates(map[string]interface{}{
		"workflow_state": constant.MessageParticipantDeleted,
		"deleted_at":     now,
	}).Error
}

// HardDeleteParticipants removes the user's join rows for the given
// message ids, or all of them when messageIDs is empty.
func (r *MessageRepo) HardDeleteParticipants(ctx context.Context, tx *gorm.DB, conversationID, userID int64, messageIDs []int64) error {
	scope := tx.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID)
	if len(messageIDs) > 0 {
		scope = scope.Where("conversation_message_id IN ?", messageIDs)
	}
	return scope.Delete(&entity.ConversationMessageParticipant{}).Error
}

// RestoreParticipant flips one soft-deleted join row back to active.
// Returns gorm.ErrRecordNotFound if no such row exists.
func (r *MessageRepo) RestoreParticipant(ctx context.Context, tx *gorm.DB, conversationID, userID, messageID int64) error {
	res := tx.WithContext(ctx).
		Model(&entity.ConversationMessageParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND conversation_message_id = ?",
			conversationID, userID, messageID).
		Updates(map[string]interface{}{
			"workflow_state": constant.MessageParticipantActive,
			"deleted_at":     nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ActiveExists reports whether the user has any active join row left in
// the conversation.
func (r *MessageRepo) ActiveExists(ctx context.Context, db *gorm.DB, conversationID, userID int64) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&entity.ConversationMessageParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND workflow_state = ?",
			conversationID, userID, constant.MessageParticipantActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ActiveHumanExists reports whether the user still sees at least one
// non-generated message in the conversation.
func (r *MessageRepo) ActiveHumanExists(ctx context.Context, db *gorm.DB, conversationID, userID int64) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&entity.ConversationMessageParticipant{}).
		Joins("JOIN conversation_messages ON conversation_messages.id = conversation_message_participants.conversation_message_id").
		Where("conversation_message_participants.conversation_id = ?", conversationID).
		Where("conversation_message_participants.user_id = ?", userID).
		Where("conversation_message_participants.workflow_state = ?", constant.MessageParticipantActive).
		Where("conversation_messages.generated = ?", false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MessageIDsForConversation returns all message ids in the conversation.
func (r *MessageRepo) MessageIDsForConversation(ctx context.Context, db *gorm.DB, conversationID int64) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&entity.ConversationMessage{}).
		Where("conversation_id = ?", conversationID).
		Pluck("id", &ids).Error
	return ids, err
}

// PurgeConversation removes every message and join row of a conversation.
// Admin purge only.
func (r *MessageRepo) PurgeConversation(ctx context.Context, tx *gorm.DB, conversationID int64) error {
	err := tx.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&entity.ConversationMessageParticipant{}).Error
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&entity.ConversationMessage{}).Error
}
