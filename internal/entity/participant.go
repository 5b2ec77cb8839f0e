package entity

import (
	"gorm.io/datatypes"

	"github.com/rinario-studio/inboxd/pkg/constant"
)

// ConversationParticipant is one user's denormalized view of a thread.
// The authoritative row lives on the conversation's shard; a replica is
// kept on the user's home shard when the two differ so per-user listings
// stay single-shard. All cached fields are recomputed from the message
// participant rows, never incremented in place.
type ConversationParticipant struct {
	ID                    int64                       `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID        int64                       `json:"conversation_id" gorm:"column:conversation_id;index:idx_cp_conv_user,unique"`
	UserID                int64                       `json:"user_id" gorm:"column:user_id;index:idx_cp_conv_user,unique;index"`
	WorkflowState         string                      `json:"workflow_state" gorm:"column:workflow_state;default:unread"`
	Label                 *string                     `json:"label,omitempty" gorm:"column:label"`
	Subscribed            bool                        `json:"subscribed" gorm:"column:subscribed;default:true"`
	MessageCount          int                         `json:"message_count" gorm:"column:message_count"`
	LastMessageAt         *int64                      `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	LastAuthoredAt        *int64                      `json:"last_authored_at,omitempty" gorm:"column:last_authored_at"`
	VisibleLastAuthoredAt *int64                      `json:"visible_last_authored_at,omitempty" gorm:"column:visible_last_authored_at"`
	HasAttachments        bool                        `json:"has_attachments" gorm:"column:has_attachments"`
	HasMediaObjects       bool                        `json:"has_media_objects" gorm:"column:has_media_objects"`
	Tags                  datatypes.JSONSlice[string] `json:"tags" gorm:"column:tags"`
	PrivateHash           *string                     `json:"private_hash,omitempty" gorm:"column:private_hash"`
	RootAccountIDs        string                      `json:"root_account_ids" gorm:"column:root_account_ids"`
	CreatedAt             int64                       `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt             int64                       `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for ConversationParticipant
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// Unread reports whether the participant's view is unread.
func (p *ConversationParticipant) Unread() bool {
	return p.WorkflowState == constant.ParticipantStateUnread
}

// Archived reports whether the participant archived the thread.
func (p *ConversationParticipant) Archived() bool {
	return p.WorkflowState == constant.ParticipantStateArchived
}

// Starred reports whether the starred label is set.
func (p *ConversationParticipant) Starred() bool {
	return p.Label != nil && *p.Label == constant.LabelStarred
}

// SetStarred sets or clears the starred label.
func (p *ConversationParticipant) SetStarred(v bool) {
	if v {
		label := constant.LabelStarred
		p.Label = &label
	} else {
		p.Label = nil
	}
}

// Visible reports whether the participant still sees at least one message.
// Participants with no visible message are hidden from listings.
func (p *ConversationParticipant) Visible() bool {
	return p.LastMessageAt != nil
}

// LastAuthor reports whether the latest visible message was authored by
// this participant.
func (p *ConversationParticipant) LastAuthor(latest *ConversationMessage) bool {
	return latest != nil && latest.AuthorID == p.UserID
}

// Properties lists the view badges for this participant's thread.
func (p *ConversationParticipant) Properties(latest *ConversationMessage) []string {
	var props []string
	if p.LastAuthor(latest) {
		props = append(props, "last_author")
	}
	if p.HasAttachments {
		props = append(props, "attachments")
	}
	if p.HasMediaObjects {
		props = append(props, "media_objects")
	}
	return props
}
