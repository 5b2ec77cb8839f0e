package constant

// Participant workflow states
const (
	ParticipantStateUnread   = "unread"
	ParticipantStateRead     = "read"
	ParticipantStateArchived = "archived"
)

// Message participant workflow states
const (
	MessageParticipantActive  = "active"
	MessageParticipantDeleted = "deleted"
)

// Batch update events
const (
	EventMarkAsRead   = "mark_as_read"
	EventMarkAsUnread = "mark_as_unread"
	EventStar         = "star"
	EventUnstar       = "unstar"
	EventArchive      = "archive"
	EventDestroy      = "destroy"
)

// Progress workflow states
const (
	ProgressQueued    = "queued"
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

// Conversation batch workflow states
const (
	BatchCreated = "created"
	BatchSent    = "sent"
)

// Conversation context types
const (
	ContextTypeCourse  = "course"
	ContextTypeGroup   = "group"
	ContextTypeAccount = "account"
	ContextTypeSection = "section"
)

// Generated message event types
const (
	MessageEventUsersAdded = "users_added"
)

// Message asset kinds. The submission linkage is a legacy path kept for
// old data only; new code must not create submission-linked messages.
const (
	AssetKindNone       = ""
	AssetKindSubmission = "submission"
)

// Starred is stored as a nullable label rather than a boolean column.
const LabelStarred = "starred"

// Execution modes for fan-out and bulk creation.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Progress tags
const (
	ProgressTagBatchUpdate = "conversation_batch_update"
	ProgressTagBulkCreate  = "conversation_bulk_create"
)

// IsBatchEvent reports whether event is a valid batch update event.
func IsBatchEvent(event string) bool {
	switch event {
	case EventMarkAsRead, EventMarkAsUnread, EventStar, EventUnstar, EventArchive, EventDestroy:
		return true
	}
	return false
}

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyParticipants = "conv:participants:%d" // conv:participants:{conversation_id}
	redisKeyUnreadCount  = "user:unread:%d"       // user:unread:{user_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "inboxd:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyParticipants() string { return redisKeyPrefix + redisKeyParticipants }
func RedisKeyUnreadCount() string  { return redisKeyPrefix + redisKeyUnreadCount }
