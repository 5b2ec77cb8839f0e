package service

import (
	"context"

	"github.com/rinario-studio/inboxd/internal/entity"
)

// Notifier delivers new-message notifications to recipients. Delivery
// mechanics (push, email digests) live outside this service; dispatch is
// fire-and-forget and never blocks the message transaction.
type Notifier interface {
	MessageAdded(ctx context.Context, conversationID int64, msg *entity.ConversationMessage, recipientIDs []int64)
}

// PermissionChecker answers the permission questions the conversation
// engine needs. Policy definition is external; only the shape of the
// check is referenced here.
type PermissionChecker interface {
	// CanCreateInContext reports whether the user may start conversations
	// owned by the given course/group/account.
	CanCreateInContext(ctx context.Context, userID int64, contextType string, contextID int64) bool
	// CanMessageAll reports whether the user may address an entire
	// audience of the context at once (e.g. "all students of course 1").
	CanMessageAll(ctx context.Context, userID int64, contextType string, contextID int64) bool
}

// EnrollmentSource exposes the enrollment graph: which course/group/section
// tags a user carries, and which user ids an audience token expands to.
type EnrollmentSource interface {
	UserTags(ctx context.Context, userID int64) ([]string, error)
	// ExpandAudience lists the user ids behind a broadcast token. scope
	// narrows the audience to one role ("students", "teachers"); empty
	// means everyone enrolled in the context.
	ExpandAudience(ctx context.Context, contextType string, contextID int64, scope string) ([]int64, error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) MessageAdded(context.Context, int64, *entity.ConversationMessage, []int64) {}

// AllowAllPermissions grants everything. Default wiring until a real
// policy backend is plugged in.
type AllowAllPermissions struct{}

func (AllowAllPermissions) CanCreateInContext(context.Context, int64, string, int64) bool {
	return true
}

func (AllowAllPermissions) CanMessageAll(context.Context, int64, string, int64) bool {
	return true
}

// StaticEnrollments is a map-backed EnrollmentSource. Tests and local
// setups use it in place of a real enrollment system.
type StaticEnrollments struct {
	Tags      map[int64][]string // user id -> enrollment tags
	Audiences map[string][]int64 // asset string (plus optional "_scope") -> member user ids
}

func (s *StaticEnrollments) UserTags(_ context.Context, userID int64) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	return s.Tags[userID], nil
}

func (s *StaticEnrollments) ExpandAudience(_ context.Context, contextType string, contextID int64, scope string) ([]int64, error) {
	if s == nil {
		return nil, nil
	}
	key := entity.AssetString(contextType, contextID)
	if scope != "" {
		key = key + "_" + scope
	}
	return s.Audiences[key], nil
}
