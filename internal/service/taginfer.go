package service

import (
	"context"

	"github.com/rinario-studio/inboxd/internal/entity"
)

// TagInference derives the course/group/section tags that characterize a
// conversation, so audience-context queries never join enrollment tables
// at read time.
type TagInference struct {
	enrollments EnrollmentSource
}

// NewTagInference creates a new TagInference
func NewTagInference(enrollments EnrollmentSource) *TagInference {
	return &TagInference{enrollments: enrollments}
}

// ConversationTags computes the tags for a conversation over its current
// participant set. An explicit context wins outright. A contextless
// private thread is tagged with the enrollment tags its two participants
// share, narrowed by the tags the conversation already carries so a later
// implied context cannot widen them. Group threads without a context stay
// untagged; their audience is the participant list itself.
func (t *TagInference) ConversationTags(ctx context.Context, conv *entity.Conversation, participantIDs []int64) ([]string, error) {
	if conv.HasContext() {
		return []string{conv.ContextKey()}, nil
	}
	if !conv.Private() || len(participantIDs) != 2 {
		return conv.Tags, nil
	}

	shared, err := t.sharedTags(ctx, participantIDs)
	if err != nil {
		return nil, err
	}
	if len(conv.Tags) > 0 {
		narrowed := entity.IntersectTags(shared, conv.Tags)
		if len(narrowed) > 0 {
			return narrowed, nil
		}
		// Keep the stored tags rather than dropping to nothing when
		// enrollments changed underneath the thread.
		return conv.Tags, nil
	}
	return shared, nil
}

// MessageTags computes the tags recorded on each recipient's join row for
// a new message: the sending context if explicit, otherwise the
// conversation's own tags.
func (t *TagInference) MessageTags(ctx context.Context, conv *entity.Conversation, participantIDs []int64) ([]string, error) {
	if conv.HasContext() {
		return []string{conv.ContextKey()}, nil
	}
	if len(conv.Tags) > 0 {
		return conv.Tags, nil
	}
	// Fallback for pre-migration rows whose tags were never stored.
	return t.ConversationTags(ctx, conv, participantIDs)
}

func (t *TagInference) sharedTags(ctx context.Context, participantIDs []int64) ([]string, error) {
	lists := make([][]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		tags, err := t.enrollments.UserTags(ctx, id)
		if err != nil {
			return nil, err
		}
		lists = append(lists, tags)
	}
	shared := lists[0]
	for _, l := range lists[1:] {
		shared = entity.IntersectTags(shared, l)
	}
	return shared, nil
}
