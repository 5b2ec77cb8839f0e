package entity

import (
	"github.com/rinario-studio/inboxd/pkg/constant"
)

// RecomputeOptions controls which cached fields a recomputation refreshes.
type RecomputeOptions struct {
	RecalculateCount bool
	SetLastMessageAt bool
	RegenerateTags   bool
}

// DefaultRecomputeOptions refreshes everything.
func DefaultRecomputeOptions() RecomputeOptions {
	return RecomputeOptions{
		RecalculateCount: true,
		SetLastMessageAt: true,
		RegenerateTags:   true,
	}
}

// RecomputeState derives a participant's denormalized fields from the
// messages currently visible to them. visible must be the active join
// rows ordered by (created_at DESC, id DESC); private is whether the
// conversation is a deduplicated 1:1 thread.
//
// The function is pure over its inputs and idempotent: running it twice
// on unchanged inputs yields identical fields. It does not persist; the
// caller saves inside the same transaction as the mutation that made the
// cached fields stale. Returns the latest visible human message, if any.
func RecomputeState(p *ConversationParticipant, visible []MessageView, private bool, opts RecomputeOptions) *ConversationMessage {
	latest := latestHuman(visible)
	if latest == nil {
		p.Tags = nil
		if p.Unread() {
			p.WorkflowState = constant.ParticipantStateRead
		}
		p.MessageCount = 0
		p.LastMessageAt = nil
		p.HasAttachments = false
		p.HasMediaObjects = false
		p.SetStarred(false)
		p.VisibleLastAuthoredAt = nil
		return nil
	}

	if opts.RegenerateTags && private {
		p.Tags = unionMessageTags(visible)
	}
	if opts.RecalculateCount {
		p.MessageCount = countHuman(visible)
	}
	p.LastMessageAt = nextLastMessageAt(p, visible, latest, opts)
	p.HasAttachments = anyVisible(visible, func(m *ConversationMessage) bool { return m.HasAttachments })
	p.HasMediaObjects = anyVisible(visible, func(m *ConversationMessage) bool { return m.HasMediaObjects })
	p.VisibleLastAuthoredAt = visibleLastAuthoredAt(p, visible, latest)
	return latest
}

// nextLastMessageAt applies the last-message timestamp rule: new
// participants adopt the newest visible timestamp only when requested,
// subscribed participants always track it, and unsubscribed participants
// stay frozen at the closest visible timestamp at or before the old
// value, or the next newer one if that message was removed. The fallback
// ordering is a best-effort heuristic, not a linearizable guarantee.
func nextLastMessageAt(p *ConversationParticipant, visible []MessageView, latest *ConversationMessage, opts RecomputeOptions) *int64 {
	if p.LastMessageAt == nil {
		if opts.SetLastMessageAt {
			t := latest.CreatedAt
			return &t
		}
		return nil
	}
	if p.Subscribed {
		t := latest.CreatedAt
		return &t
	}

	old := *p.LastMessageAt
	var atOrBefore, after *int64
	for i := range visible {
		t := visible[i].Message.CreatedAt
		if t <= old {
			if atOrBefore == nil || t > *atOrBefore {
				v := t
				atOrBefore = &v
			}
		} else {
			if after == nil || t < *after {
				v := t
				after = &v
			}
		}
	}
	if atOrBefore != nil {
		return atOrBefore
	}
	return after
}

func visibleLastAuthoredAt(p *ConversationParticipant, visible []MessageView, latest *ConversationMessage) *int64 {
	if latest.AuthorID == p.UserID {
		t := latest.CreatedAt
		return &t
	}
	for i := range visible {
		m := &visible[i].Message
		if m.Human() && m.AuthorID == p.UserID {
			t := m.CreatedAt
			return &t
		}
	}
	return nil
}

func latestHuman(visible []MessageView) *ConversationMessage {
	for i := range visible {
		if visible[i].Message.Human() {
			return &visible[i].Message
		}
	}
	return nil
}

func countHuman(visible []MessageView) int {
	n := 0
	for i := range visible {
		if visible[i].Message.Human() {
			n++
		}
	}
	return n
}

func anyVisible(visible []MessageView, pred func(*ConversationMessage) bool) bool {
	for i := range visible {
		if pred(&visible[i].Message) {
			return true
		}
	}
	return false
}

func unionMessageTags(visible []MessageView) []string {
	lists := make([][]string, 0, len(visible))
	for i := range visible {
		lists = append(lists, visible[i].Tags)
	}
	return UnionTags(lists...)
}
