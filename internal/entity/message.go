package entity

import (
	"strconv"
	"strings"

	"gorm.io/datatypes"
)

// ConversationMessage is one authored or system-generated message body.
// Immutable after creation except the two inferred boolean flags and
// attachment bookkeeping. Lives on the conversation's shard.
type ConversationMessage struct {
	ID                  int64             `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID      int64             `json:"conversation_id" gorm:"column:conversation_id;index"`
	AuthorID            int64             `json:"author_id" gorm:"column:author_id"`
	Body                string            `json:"body" gorm:"column:body;type:text"`
	Generated           bool              `json:"generated" gorm:"column:generated"`
	EventType           string            `json:"event_type,omitempty" gorm:"column:event_type"`
	EventData           datatypes.JSONMap `json:"event_data,omitempty" gorm:"column:event_data"`
	HasAttachments      bool              `json:"has_attachments" gorm:"column:has_attachments"`
	HasMediaObjects     bool              `json:"has_media_objects" gorm:"column:has_media_objects"`
	AttachmentIDs       string            `json:"-" gorm:"column:attachment_ids"`
	MediaCommentID      string            `json:"media_comment_id,omitempty" gorm:"column:media_comment_id"`
	MediaCommentType    string            `json:"media_comment_type,omitempty" gorm:"column:media_comment_type"`
	ForwardedMessageIDs string            `json:"-" gorm:"column:forwarded_message_ids"`
	AssetKind           string            `json:"asset_kind,omitempty" gorm:"column:asset_kind"`
	AssetID             int64             `json:"asset_id,omitempty" gorm:"column:asset_id"`
	RootAccountIDs      string            `json:"root_account_ids,omitempty" gorm:"column:root_account_ids"`
	CreatedAt           int64             `json:"created_at" gorm:"column:created_at"`
}

// TableName returns the table name for ConversationMessage
func (ConversationMessage) TableName() string {
	return "conversation_messages"
}

// Human reports whether this is a user-authored message (as opposed to a
// generated event message like "X was added").
func (m *ConversationMessage) Human() bool {
	return !m.Generated
}

// SubmissionLinked reports whether this message came from the legacy
// submission-comment linkage. That path is frozen: such messages never
// dispatch notifications and cannot be forwarded.
func (m *ConversationMessage) SubmissionLinked() bool {
	return m.AssetKind == "submission"
}

// Forwardable reports whether the message may be embedded by reference in
// another message.
func (m *ConversationMessage) Forwardable() bool {
	return !m.SubmissionLinked()
}

// AttachmentIDList returns the attached file ids.
func (m *ConversationMessage) AttachmentIDList() []int64 {
	return splitIDList(m.AttachmentIDs)
}

// SetAttachmentIDList stores the attached file ids.
func (m *ConversationMessage) SetAttachmentIDList(ids []int64) {
	m.AttachmentIDs = joinIDList(ids)
}

// ForwardedIDList returns the ordered ids of messages embedded by reference.
func (m *ConversationMessage) ForwardedIDList() []int64 {
	return splitIDList(m.ForwardedMessageIDs)
}

// SetForwardedIDList stores the forwarded message ids, preserving order.
func (m *ConversationMessage) SetForwardedIDList(ids []int64) {
	m.ForwardedMessageIDs = joinIDList(ids)
}

func splitIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func joinIDList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// MessageView is one message as seen by one participant: the message row
// joined with the participant's own tags from the join row. This is the
// input shape of state recomputation.
type MessageView struct {
	Message ConversationMessage
	Tags    []string
}
