package entity

import (
	"gorm.io/datatypes"
)

// ConversationMessageParticipant grants one user visibility into one
// message. A message is visible to a user iff an active row exists.
// Soft delete keeps the row with workflow_state=deleted so the message can
// be restored; hard delete removes it entirely. Lives on the
// conversation's shard next to the message.
type ConversationMessageParticipant struct {
	ID                    int64                       `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationMessageID int64                       `json:"conversation_message_id" gorm:"column:conversation_message_id;index:idx_cmp_msg_user,unique"`
	UserID                int64                       `json:"user_id" gorm:"column:user_id;index:idx_cmp_msg_user,unique"`
	ConversationID        int64                       `json:"conversation_id" gorm:"column:conversation_id;index"`
	Tags                  datatypes.JSONSlice[string] `json:"tags" gorm:"column:tags"`
	WorkflowState         string                      `json:"workflow_state" gorm:"column:workflow_state;default:active"`
	DeletedAt             *int64                      `json:"deleted_at,omitempty" gorm:"column:deleted_at"`
	CreatedAt             int64                       `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for ConversationMessageParticipant
func (ConversationMessageParticipant) TableName() string {
	return "conversation_message_participants"
}

// Active reports whether the row still grants visibility.
func (p *ConversationMessageParticipant) Active() bool {
	return p.WorkflowState != "deleted"
}
