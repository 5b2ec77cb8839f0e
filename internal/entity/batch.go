package entity

import (
	"gorm.io/datatypes"

	"github.com/rinario-studio/inboxd/pkg/constant"
)

// ConversationBatch tracks an asynchronous bulk-create: one authored
// message replayed into a separate private conversation per recipient.
// Scoped to conversation creation fan-out only; not a general job queue.
// Lives on the sending user's home shard.
type ConversationBatch struct {
	ID              int64                       `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	Token           string                      `json:"id" gorm:"column:token;uniqueIndex"`
	UserID          int64                       `json:"user_id" gorm:"column:user_id;index"`
	WorkflowState   string                      `json:"workflow_state" gorm:"column:workflow_state;default:created"`
	Subject         string                      `json:"subject" gorm:"column:subject"`
	Body            string                      `json:"body" gorm:"column:body;type:text"`
	RecipientIDs    datatypes.JSONSlice[int64]  `json:"recipient_ids" gorm:"column:recipient_ids"`
	ContextType     string                      `json:"context_type,omitempty" gorm:"column:context_type"`
	ContextID       int64                       `json:"context_id,omitempty" gorm:"column:context_id"`
	Tags            datatypes.JSONSlice[string] `json:"tags,omitempty" gorm:"column:tags"`
	ConversationIDs datatypes.JSONSlice[int64]  `json:"conversation_ids" gorm:"column:conversation_ids"`
	CreatedAt       int64                       `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt       int64                       `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for ConversationBatch
func (ConversationBatch) TableName() string {
	return "conversation_batches"
}

// Sent reports whether every recipient conversation has been created.
func (b *ConversationBatch) Sent() bool {
	return b.WorkflowState == constant.BatchSent
}
