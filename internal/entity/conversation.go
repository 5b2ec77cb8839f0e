package entity

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// Conversation is the shared thread entity. Its row lives on exactly one
// shard; participants reference it by global id. Never hard-deleted except
// by an explicit purge.
type Conversation struct {
	ID              int64                       `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	PrivateHash     *string                     `json:"private_hash,omitempty" gorm:"column:private_hash;index"`
	Subject         string                      `json:"subject" gorm:"column:subject"`
	ContextType     string                      `json:"context_type" gorm:"column:context_type"`
	ContextID       int64                       `json:"context_id" gorm:"column:context_id"`
	Tags            datatypes.JSONSlice[string] `json:"tags" gorm:"column:tags"`
	HasAttachments  bool                        `json:"has_attachments" gorm:"column:has_attachments"`
	HasMediaObjects bool                        `json:"has_media_objects" gorm:"column:has_media_objects"`
	RootAccountIDs  string                      `json:"root_account_ids" gorm:"column:root_account_ids"`
	CreatedAt       int64                       `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt       int64                       `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// Private reports whether this is a deduplicated 1:1 thread.
func (c *Conversation) Private() bool {
	return c.PrivateHash != nil && *c.PrivateHash != ""
}

// HasContext reports whether the conversation is owned by a course,
// group or account.
func (c *Conversation) HasContext() bool {
	return c.ContextType != "" && c.ContextID != 0
}

// ContextKey returns the owning context as an asset string, or "".
func (c *Conversation) ContextKey() string {
	if !c.HasContext() {
		return ""
	}
	return AssetString(c.ContextType, c.ContextID)
}

// PrivateHashFor computes the dedup key for a private conversation from
// the sorted set of global participant ids plus the context scope. Two
// users cannot have more than one private conversation with the same hash
// in the same context; the check is lookup-before-create, races resolve
// first-write-wins.
func PrivateHashFor(userIDs []int64, contextKey string) string {
	base := joinSortedIDs(userIDs)
	if contextKey != "" {
		base = base + "|" + contextKey
	}
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// LegacyPrivateHashFor computes the pre-context dedup key. Rows written
// before contexts became part of the key still carry it, so lookups must
// check both formats.
func LegacyPrivateHashFor(userIDs []int64) string {
	return PrivateHashFor(userIDs, "")
}

func joinSortedIDs(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}
