package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
)

func TestUpdateOneEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startGroup(t, 1, []int64{2}, "hello")

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventMarkAsRead))
	assert.Equal(t, constant.ParticipantStateRead, env.participant(t, ref, 2).WorkflowState)

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventMarkAsUnread))
	assert.Equal(t, constant.ParticipantStateUnread, env.participant(t, ref, 2).WorkflowState)

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventStar))
	assert.True(t, env.participant(t, ref, 2).Starred())

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventUnstar))
	assert.False(t, env.participant(t, ref, 2).Starred())

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventArchive))
	assert.Equal(t, constant.ParticipantStateArchived, env.participant(t, ref, 2).WorkflowState)
}

func TestUpdateOneRejectsUnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	ref := env.startGroup(t, 1, []int64{2}, "hello")

	err := env.participants.UpdateOne(context.Background(), 2, ref.GlobalID, "defenestrate")
	requireCode(t, err, errcode.ErrInvalidEvent)
}

func TestUpdateOneNotParticipating(t *testing.T) {
	env := newTestEnv(t)
	ref := env.startGroup(t, 1, []int64{2}, "hello")

	err := env.participants.UpdateOne(context.Background(), 9, ref.GlobalID, constant.EventMarkAsRead)
	requireCode(t, err, errcode.ErrNotParticipating)
}

func TestDestroyRemovesView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startPrivate(t, 1, 2, "hello")

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventDestroy))

	gone, err := env.repos.Participant.Get(ctx, ref.Shard.DB, ref.GlobalID, 2)
	require.NoError(t, err)
	assert.Nil(t, gone)

	views, err := env.repos.Message.VisibleViews(ctx, ref.Shard.DB, ref.GlobalID, 2)
	require.NoError(t, err)
	assert.Empty(t, views)

	// The other participant and the thread itself are untouched.
	assert.Equal(t, 1, env.participant(t, ref, 1).MessageCount)
	_, err = env.router.GetConversation(ctx, ref.GlobalID)
	require.NoError(t, err)
}

func TestRemoveAllThenRestoreOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startPrivate(t, 1, 2, "first")
	kept := env.send(t, ref.GlobalID, 1, "second")

	require.NoError(t, env.participants.RemoveMessages(ctx, 2, ref.GlobalID, nil))
	p := env.participant(t, ref, 2)
	assert.Equal(t, 0, p.MessageCount)
	assert.Nil(t, p.LastMessageAt)
	assert.False(t, p.Visible())
	assert.Equal(t, constant.ParticipantStateRead, p.WorkflowState)

	require.NoError(t, env.participants.RestoreMessage(ctx, 2, ref.GlobalID, ref.Shard.GlobalID(kept.ID)))
	p = env.participant(t, ref, 2)
	assert.Equal(t, 1, p.MessageCount)
	require.NotNil(t, p.LastMessageAt)
	assert.Equal(t, kept.CreatedAt, *p.LastMessageAt)
}

func TestRemoveSubsetRecomputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startPrivate(t, 1, 2, "one")
	second := env.send(t, ref.GlobalID, 2, "two")
	third := env.send(t, ref.GlobalID, 1, "three")

	require.NoError(t, env.participants.RemoveMessages(ctx, 2, ref.GlobalID,
		[]int64{ref.Shard.GlobalID(third.ID)}))

	p := env.participant(t, ref, 2)
	assert.Equal(t, 2, p.MessageCount)
	require.NotNil(t, p.LastMessageAt)
	assert.Equal(t, second.CreatedAt, *p.LastMessageAt)
	// Own newest visible message is still the second one.
	require.NotNil(t, p.VisibleLastAuthoredAt)
	assert.Equal(t, second.CreatedAt, *p.VisibleLastAuthoredAt)
}

func TestRestoreUnknownMessage(t *testing.T) {
	env := newTestEnv(t)
	ref := env.startPrivate(t, 1, 2, "one")

	err := env.participants.RestoreMessage(context.Background(), 2, ref.GlobalID, ref.Shard.GlobalID(9999))
	requireCode(t, err, errcode.ErrMessageNotFound)
}

func TestGeneratedTailCollapse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startGroup(t, 1, []int64{2}, "hello")
	_, err := env.fanout.AddParticipants(ctx, ref.GlobalID, 1, []int64{3})
	require.NoError(t, err)

	var human entity.ConversationMessage
	require.NoError(t, ref.Shard.DB.
		Where("conversation_id = ? AND generated = ?", ref.GlobalID, false).
		First(&human).Error)

	// Removing the only human message leaves user 2 with just the
	// "users added" event, which collapses the whole view.
	require.NoError(t, env.participants.RemoveMessages(ctx, 2, ref.GlobalID,
		[]int64{ref.Shard.GlobalID(human.ID)}))

	var rows int64
	require.NoError(t, ref.Shard.DB.
		Model(&entity.ConversationMessageParticipant{}).
		Where("conversation_id = ? AND user_id = ?", ref.GlobalID, 2).
		Count(&rows).Error)
	assert.Zero(t, rows)

	p := env.participant(t, ref, 2)
	assert.Equal(t, 0, p.MessageCount)
	assert.False(t, p.Visible())

	// Others keep seeing everything.
	assert.Equal(t, 1, env.participant(t, ref, 1).MessageCount)
}

func TestUnsubscribeFreezesLastMessageAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startGroup(t, 1, []int64{2, 3}, "first")
	frozenAt := *env.participant(t, ref, 2).LastMessageAt

	require.NoError(t, env.participants.SetSubscribed(ctx, 2, ref.GlobalID, false))
	p := env.participant(t, ref, 2)
	assert.False(t, p.Subscribed)
	assert.Equal(t, constant.ParticipantStateRead, p.WorkflowState)

	env.send(t, ref.GlobalID, 1, "second")
	env.send(t, ref.GlobalID, 3, "third")

	p = env.participant(t, ref, 2)
	assert.Equal(t, 3, p.MessageCount)
	require.NotNil(t, p.LastMessageAt)
	assert.Equal(t, frozenAt, *p.LastMessageAt)

	// A subscribed participant tracked the newest message.
	assert.Greater(t, *env.participant(t, ref, 3).LastMessageAt, frozenAt)
}

func TestResubscribeCatchesUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startGroup(t, 1, []int64{2, 3}, "first")

	require.NoError(t, env.participants.SetSubscribed(ctx, 2, ref.GlobalID, false))
	latest := env.send(t, ref.GlobalID, 1, "second")
	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventMarkAsRead))

	require.NoError(t, env.participants.SetSubscribed(ctx, 2, ref.GlobalID, true))
	p := env.participant(t, ref, 2)
	assert.True(t, p.Subscribed)
	require.NotNil(t, p.LastMessageAt)
	assert.Equal(t, latest.CreatedAt, *p.LastMessageAt)
	assert.Equal(t, constant.ParticipantStateUnread, p.WorkflowState)
}

func TestSetSubscribedPrivateNoOp(t *testing.T) {
	env := newTestEnv(t)
	ref := env.startPrivate(t, 1, 2, "hello")

	require.NoError(t, env.participants.SetSubscribed(context.Background(), 2, ref.GlobalID, false))
	assert.True(t, env.participant(t, ref, 2).Subscribed)
}

func TestGetForUserRepairsReplica(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Context placement pins the conversation; the recipient is chosen so
	// their home shard is the other one.
	ref := env.resolve(t, &ResolveRequest{
		SenderID:     1,
		RecipientIDs: []int64{2},
		ContextType:  constant.ContextTypeCourse,
		ContextID:    7,
	})
	remote := env.remoteUser(ref, 10)
	_, err := env.router.EnsureParticipants(ctx, ref, []int64{remote})
	require.NoError(t, err)
	env.send(t, ref.GlobalID, 1, "hello")

	home := env.cluster.HomeShard(remote)
	require.NotEqual(t, ref.Shard.ID, home.ID)
	replica, err := env.repos.Participant.Get(ctx, home.DB, ref.GlobalID, remote)
	require.NoError(t, err)
	require.NotNil(t, replica)

	// Lose the replica; the next single-view read repairs it.
	require.NoError(t, env.repos.Participant.Delete(ctx, home.DB, ref.GlobalID, remote))

	p, gotRef, err := env.participants.GetForUser(ctx, remote, ref.GlobalID)
	require.NoError(t, err)
	assert.Equal(t, ref.GlobalID, gotRef.GlobalID)
	assert.Equal(t, remote, p.UserID)

	repaired, err := env.repos.Participant.Get(ctx, home.DB, ref.GlobalID, remote)
	require.NoError(t, err)
	require.NotNil(t, repaired)
	assert.Equal(t, p.WorkflowState, repaired.WorkflowState)
}

func TestReplicaTracksAuthoritativeState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.resolve(t, &ResolveRequest{
		SenderID:     1,
		RecipientIDs: []int64{2},
		ContextType:  constant.ContextTypeCourse,
		ContextID:    7,
	})
	remote := env.remoteUser(ref, 10)
	_, err := env.router.EnsureParticipants(ctx, ref, []int64{remote})
	require.NoError(t, err)
	env.send(t, ref.GlobalID, 1, "hello")

	require.NoError(t, env.participants.UpdateOne(ctx, remote, ref.GlobalID, constant.EventStar))

	home := env.cluster.HomeShard(remote)
	replica, err := env.repos.Participant.Get(ctx, home.DB, ref.GlobalID, remote)
	require.NoError(t, err)
	require.NotNil(t, replica)
	assert.True(t, replica.Starred())
	assert.Equal(t, env.participant(t, ref, remote).WorkflowState, replica.WorkflowState)
}

func TestUnreadCounterCountsNewConversations(t *testing.T) {
	env := newTestEnv(t)
	env.withCounterCache()
	ctx := context.Background()

	env.startPrivate(t, 1, 2, "hi")
	env.startPrivate(t, 3, 2, "hello again")

	assert.Equal(t, int64(2), env.participants.UnreadCount(ctx, 2))
	// Senders read their own openers.
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 1))
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 3))
}

func TestUnreadCounterFollowsWorkflowEvents(t *testing.T) {
	env := newTestEnv(t)
	env.withCounterCache()
	ctx := context.Background()

	ref := env.startPrivate(t, 1, 2, "hi")
	require.Equal(t, int64(1), env.participants.UnreadCount(ctx, 2))

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventMarkAsRead))
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 2))

	// A follow-up surfaces the thread again.
	env.send(t, ref.GlobalID, 1, "still there?")
	assert.Equal(t, int64(1), env.participants.UnreadCount(ctx, 2))

	require.NoError(t, env.participants.UpdateOne(ctx, 2, ref.GlobalID, constant.EventDestroy))
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 2))
}

func TestUnreadCounterIgnoresEventOnlyJoin(t *testing.T) {
	env := newTestEnv(t)
	env.withCounterCache()
	ctx := context.Background()

	ref := env.startGroup(t, 1, []int64{2}, "first")
	_, err := env.fanout.AddParticipants(ctx, ref.GlobalID, 1, []int64{3})
	require.NoError(t, err)

	// The join event is bookkeeping; the newcomer has nothing to read.
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 3))
	assert.Equal(t, int64(1), env.participants.UnreadCount(ctx, 2))
}

func TestPurgeConversationRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.withCounterCache()
	ctx := context.Background()

	ref := env.startGroup(t, 1, []int64{2}, "first")
	remote := env.remoteUser(ref, 10)
	_, err := env.fanout.AddParticipants(ctx, ref.GlobalID, 1, []int64{remote})
	require.NoError(t, err)
	env.send(t, ref.GlobalID, 1, "second")

	result, err := env.participants.PurgeConversation(ctx, ref.GlobalID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.MessagesPurged) // two authored plus the join event
	assert.Equal(t, 3, result.ParticipantsPurged)

	_, err = env.router.GetConversation(ctx, ref.GlobalID)
	requireCode(t, err, errcode.ErrConversationNotFound)

	for _, id := range []int64{1, 2, remote} {
		p, err := env.repos.Participant.Get(ctx, ref.Shard.DB, ref.GlobalID, id)
		require.NoError(t, err)
		assert.Nil(t, p)
	}

	home := env.cluster.HomeShard(remote)
	replica, err := env.repos.Participant.Get(ctx, home.DB, ref.GlobalID, remote)
	require.NoError(t, err)
	assert.Nil(t, replica)

	msgIDs, err := env.repos.Message.MessageIDsForConversation(ctx, ref.Shard.DB, ref.GlobalID)
	require.NoError(t, err)
	assert.Empty(t, msgIDs)

	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, 2))
	assert.Equal(t, int64(0), env.participants.UnreadCount(ctx, remote))
}
