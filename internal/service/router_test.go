package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

func TestExpandRecipientsNumeric(t *testing.T) {
	env := newTestEnv(t)

	ids, err := env.router.ExpandRecipients(context.Background(), 1, []string{"2", "3", "2", "1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestExpandRecipientsAudience(t *testing.T) {
	env := newTestEnv(t)
	env.enrollments.Audiences["course_7"] = []int64{1, 2, 3}
	env.enrollments.Audiences["course_7_students"] = []int64{2, 3}

	ids, err := env.router.ExpandRecipients(context.Background(), 1, []string{"course_7"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids) // sender excluded

	ids, err = env.router.ExpandRecipients(context.Background(), 1, []string{"course_7_students", "4"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, ids)
}

func TestExpandRecipientsRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.router.ExpandRecipients(context.Background(), 1, []string{"banana"})
	requireCode(t, err, errcode.ErrInvalidRecipient)

	_, err = env.router.ExpandRecipients(context.Background(), 1, []string{"-5"})
	requireCode(t, err, errcode.ErrInvalidRecipient)

	_, err = env.router.ExpandRecipients(context.Background(), 1, nil)
	requireCode(t, err, errcode.ErrEmptyRecipients)

	// Only the sender resolves: nothing left to address.
	_, err = env.router.ExpandRecipients(context.Background(), 1, []string{"1"})
	requireCode(t, err, errcode.ErrEmptyRecipients)
}

type denyAllPermissions struct{}

func (denyAllPermissions) CanCreateInContext(context.Context, int64, string, int64) bool {
	return false
}
func (denyAllPermissions) CanMessageAll(context.Context, int64, string, int64) bool { return false }

func TestExpandRecipientsAudienceNeedsPermission(t *testing.T) {
	env := newTestEnv(t)
	env.enrollments.Audiences["course_7"] = []int64{2, 3}
	restricted := NewRouter(env.repos, denyAllPermissions{}, env.enrollments, env.tags, env.cfg, logger.Nop())

	_, err := restricted.ExpandRecipients(context.Background(), 1, []string{"course_7"})
	requireCode(t, err, errcode.ErrRestrictedRecipient)
}

func TestResolvePrivateDedup(t *testing.T) {
	env := newTestEnv(t)

	first := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}})
	assert.True(t, first.Created)
	assert.True(t, first.Conversation.Private())

	again := env.resolve(t, &ResolveRequest{SenderID: 2, RecipientIDs: []int64{1}})
	assert.False(t, again.Created)
	assert.Equal(t, first.GlobalID, again.GlobalID)
}

func TestResolvePrivateDistinctPerContext(t *testing.T) {
	env := newTestEnv(t)

	plain := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}})
	inCourse := env.resolve(t, &ResolveRequest{
		SenderID:     1,
		RecipientIDs: []int64{2},
		ContextType:  constant.ContextTypeCourse,
		ContextID:    7,
	})
	assert.True(t, inCourse.Created)
	assert.NotEqual(t, plain.GlobalID, inCourse.GlobalID)

	sameCourse := env.resolve(t, &ResolveRequest{
		SenderID:     2,
		RecipientIDs: []int64{1},
		ContextType:  constant.ContextTypeCourse,
		ContextID:    7,
	})
	assert.Equal(t, inCourse.GlobalID, sameCourse.GlobalID)
}

func TestResolveForceNewSkipsDedup(t *testing.T) {
	env := newTestEnv(t)

	first := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}})
	forced := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}, ForceNew: true})
	assert.True(t, forced.Created)
	assert.NotEqual(t, first.GlobalID, forced.GlobalID)
}

func TestResolveGroupNeverDedups(t *testing.T) {
	env := newTestEnv(t)

	first := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2, 3}, GroupConversation: true})
	second := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2, 3}, GroupConversation: true})
	assert.True(t, second.Created)
	assert.NotEqual(t, first.GlobalID, second.GlobalID)
	assert.False(t, first.Conversation.Private())
}

func TestResolveTwoPartyGroupStaysGroup(t *testing.T) {
	env := newTestEnv(t)

	ref := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}, GroupConversation: true})
	assert.False(t, ref.Conversation.Private())

	again := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}, GroupConversation: true})
	assert.NotEqual(t, ref.GlobalID, again.GlobalID)
}

func TestResolveLegacyHashFallback(t *testing.T) {
	env := newTestEnv(t)

	// A thread written before contexts joined the dedup key carries the
	// context-free hash. It must still be found by a context-scoped send.
	shard := env.cluster.ContextShard(7)
	hash := entity.LegacyPrivateHashFor([]int64{1, 2})
	old := &entity.Conversation{PrivateHash: &hash}
	require.NoError(t, env.repos.Conversation.Create(context.Background(), shard.DB, old))

	ref := env.resolve(t, &ResolveRequest{
		SenderID:     1,
		RecipientIDs: []int64{2},
		ContextType:  constant.ContextTypeCourse,
		ContextID:    7,
	})
	assert.False(t, ref.Created)
	assert.Equal(t, shard.GlobalID(old.ID), ref.GlobalID)
}

func TestResolveGroupCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxGroupParticipants = 3

	_, err := env.router.Resolve(context.Background(), &ResolveRequest{
		SenderID:          1,
		RecipientIDs:      []int64{2, 3, 4},
		GroupConversation: true,
	})
	requireCode(t, err, errcode.ErrGroupSizeExceeded)
}

func TestResolveAccountContextPermission(t *testing.T) {
	env := newTestEnv(t)
	restricted := NewRouter(env.repos, denyAllPermissions{}, env.enrollments, env.tags, env.cfg, logger.Nop())

	_, err := restricted.Resolve(context.Background(), &ResolveRequest{
		SenderID:     1,
		RecipientIDs: []int64{2},
		ContextType:  constant.ContextTypeAccount,
		ContextID:    1,
	})
	requireCode(t, err, errcode.ErrContextNotAuthorized)
}

func TestGetConversationNotFound(t *testing.T) {
	env := newTestEnv(t)

	shard := env.cluster.Shards()[0]
	_, err := env.router.GetConversation(context.Background(), shard.GlobalID(999))
	requireCode(t, err, errcode.ErrConversationNotFound)
}

func TestEnsureParticipantsAddsMissing(t *testing.T) {
	env := newTestEnv(t)

	ref := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2, 3}, GroupConversation: true})
	added, err := env.router.EnsureParticipants(context.Background(), ref, []int64{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, added)

	ids, err := env.router.ParticipantIDs(context.Background(), ref)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, ids)

	// Everyone already present is a no-op.
	added, err = env.router.EnsureParticipants(context.Background(), ref, []int64{4, 5})
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestEnsureParticipantsCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxGroupParticipants = 3

	ref := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2, 3}, GroupConversation: true})
	_, err := env.router.EnsureParticipants(context.Background(), ref, []int64{4})
	requireCode(t, err, errcode.ErrGroupSizeExceeded)
}

func TestEnsureParticipantsRefreshesTags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ref := env.resolve(t, &ResolveRequest{
		SenderID:          1,
		RecipientIDs:      []int64{2},
		ContextType:       constant.ContextTypeCourse,
		ContextID:         7,
		GroupConversation: true,
	})
	// A pre-migration row whose tags were never stored.
	ref.Conversation.Tags = nil
	require.NoError(t, env.repos.Conversation.Save(ctx, ref.Shard.DB, ref.Conversation))

	_, err := env.router.EnsureParticipants(ctx, ref, []int64{3})
	require.NoError(t, err)

	conv, err := env.repos.Conversation.GetByLocalID(ctx, ref.Shard.DB, ref.Conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, []string{"course_7"}, []string(conv.Tags))
}

func TestNewConversationParticipantsStartUnread(t *testing.T) {
	env := newTestEnv(t)

	ref := env.resolve(t, &ResolveRequest{SenderID: 1, RecipientIDs: []int64{2}})
	for _, id := range []int64{1, 2} {
		p := env.participant(t, ref, id)
		assert.Equal(t, constant.ParticipantStateUnread, p.WorkflowState)
		assert.True(t, p.Subscribed)
		assert.Nil(t, p.LastMessageAt)
	}
}
