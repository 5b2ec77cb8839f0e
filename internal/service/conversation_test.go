package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
)

func TestCreateShapesSenderView(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.conv.Create(context.Background(), &CreateRequest{
		SenderID:          1,
		Recipients:        []string{"2", "3"},
		Subject:           "greetings",
		Body:              "hi all",
		GroupConversation: true,
		Mode:              constant.ModeSync,
	})
	require.NoError(t, err)
	require.NotNil(t, res.View)
	assert.Nil(t, res.Batch)

	view := res.View
	assert.Equal(t, "greetings", view.Subject)
	assert.Equal(t, constant.ParticipantStateRead, view.WorkflowState)
	assert.Equal(t, 1, view.MessageCount)
	assert.False(t, view.Private)
	assert.Equal(t, "hi all", view.LastMessage)
	assert.ElementsMatch(t, []int64{2, 3}, view.Audience)
	assert.ElementsMatch(t, []int64{1, 2, 3}, view.Participants)
	assert.Contains(t, view.Properties, "last_author")
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hi all", view.LastAuthoredMessage)
}

func TestCreatePrivateReusesThread(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.conv.Create(ctx, &CreateRequest{
		SenderID: 1, Recipients: []string{"2"}, Body: "one", Mode: constant.ModeSync,
	})
	require.NoError(t, err)
	second, err := env.conv.Create(ctx, &CreateRequest{
		SenderID: 1, Recipients: []string{"2"}, Body: "two", Mode: constant.ModeSync,
	})
	require.NoError(t, err)

	assert.Equal(t, first.View.ID, second.View.ID)
	assert.True(t, second.View.Private)
	assert.Equal(t, 2, second.View.MessageCount)
}

func TestCreateBulkMessageReturnsBatch(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.conv.Create(context.Background(), &CreateRequest{
		SenderID:    1,
		Recipients:  []string{"2", "3"},
		Body:        "individually",
		BulkMessage: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.View)
	require.NotNil(t, res.Batch)
	env.drain(t)

	got, err := env.batch.GetBatch(context.Background(), 1, res.Batch.Token)
	require.NoError(t, err)
	assert.Equal(t, constant.BatchSent, got.WorkflowState)
	assert.Len(t, got.ConversationIDs, 2)
}

func TestCreateAppendsByConversationID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.conv.Create(ctx, &CreateRequest{
		SenderID: 1, Recipients: []string{"2"}, Body: "one", Mode: constant.ModeSync,
	})
	require.NoError(t, err)

	res, err := env.conv.Create(ctx, &CreateRequest{
		SenderID:       2,
		ConversationID: first.View.ID,
		Body:           "two",
		Mode:           constant.ModeSync,
	})
	require.NoError(t, err)
	assert.Equal(t, first.View.ID, res.View.ID)
	assert.Equal(t, 2, res.View.MessageCount)
	assert.Equal(t, constant.ParticipantStateRead, res.View.WorkflowState)
}

func TestReplyCanGrowGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.conv.Create(ctx, &CreateRequest{
		SenderID:          1,
		Recipients:        []string{"2"},
		Body:              "one",
		GroupConversation: true,
		Mode:              constant.ModeSync,
	})
	require.NoError(t, err)

	res, err := env.conv.Create(ctx, &CreateRequest{
		SenderID:       1,
		ConversationID: first.View.ID,
		Recipients:     []string{"3"},
		Body:           "welcome",
		Mode:           constant.ModeSync,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, res.View.Participants)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cfg.MaxSubjectLength = 5
	_, err := env.conv.Create(ctx, &CreateRequest{
		SenderID: 1, Recipients: []string{"2"}, Subject: "much too long", Body: "hi",
	})
	requireCode(t, err, errcode.ErrSubjectTooLong)
	env.cfg.MaxSubjectLength = 255

	_, err = env.conv.Create(ctx, &CreateRequest{
		SenderID: 1, Recipients: []string{"2"}, Body: "hi", ContextCode: "notacode",
	})
	requireCode(t, err, errcode.ErrInvalidParam)
}

func TestGetIncludesMessagesWithGlobalIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ref := env.startPrivate(t, 1, 2, "hello")
	env.send(t, ref.GlobalID, 1, "again")

	view, err := env.conv.Get(ctx, 2, ref.GlobalID)
	require.NoError(t, err)
	assert.Equal(t, constant.ParticipantStateUnread, view.WorkflowState)
	require.Len(t, view.Messages, 2)
	for _, m := range view.Messages {
		shard, err := env.cluster.ShardFor(m.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, ref.Shard.ID, shard.ID)
	}
	// Newest first.
	assert.Equal(t, "again", view.Messages[0].Body)
}

func TestGetRequiresParticipation(t *testing.T) {
	env := newTestEnv(t)
	ref := env.startPrivate(t, 1, 2, "hello")

	_, err := env.conv.Get(context.Background(), 9, ref.GlobalID)
	requireCode(t, err, errcode.ErrNotParticipating)
}

func TestListScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unread := env.startGroup(t, 1, []int64{5}, "a")
	read := env.startGroup(t, 2, []int64{5}, "b")
	archived := env.startGroup(t, 3, []int64{5}, "c")
	require.NoError(t, env.participants.UpdateOne(ctx, 5, read.GlobalID, constant.EventMarkAsRead))
	require.NoError(t, env.participants.UpdateOne(ctx, 5, archived.GlobalID, constant.EventArchive))
	require.NoError(t, env.participants.UpdateOne(ctx, 5, read.GlobalID, constant.EventStar))

	views, err := env.conv.List(ctx, 5, repository.ListFilter{OnlyVisible: true})
	require.NoError(t, err)
	require.Len(t, views, 2)

	views, err = env.conv.List(ctx, 5, repository.ListFilter{
		States: []string{constant.ParticipantStateUnread}, OnlyVisible: true,
	})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, unread.GlobalID, views[0].ID)

	views, err = env.conv.List(ctx, 5, repository.ListFilter{
		States: []string{constant.ParticipantStateArchived}, OnlyVisible: true,
	})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, archived.GlobalID, views[0].ID)

	views, err = env.conv.List(ctx, 5, repository.ListFilter{Starred: true, OnlyVisible: true})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, read.GlobalID, views[0].ID)
	assert.True(t, views[0].Starred)
}

func TestListNewestActivityFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	older := env.startGroup(t, 1, []int64{5}, "a")
	newer := env.startGroup(t, 2, []int64{5}, "b")

	views, err := env.conv.List(ctx, 5, repository.ListFilter{OnlyVisible: true})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, newer.GlobalID, views[0].ID)
	assert.Equal(t, older.GlobalID, views[1].ID)

	// A reply to the older thread moves it back to the top.
	env.send(t, older.GlobalID, 1, "bump")
	views, err = env.conv.List(ctx, 5, repository.ListFilter{OnlyVisible: true})
	require.NoError(t, err)
	assert.Equal(t, older.GlobalID, views[0].ID)
}

func TestViewAudienceContexts(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.conv.Create(context.Background(), &CreateRequest{
		SenderID:    1,
		Recipients:  []string{"2"},
		Body:        "hi",
		ContextCode: "course_7",
		Mode:        constant.ModeSync,
	})
	require.NoError(t, err)
	assert.Contains(t, res.View.AudienceContexts.Courses, "7")
	assert.Empty(t, res.View.AudienceContexts.Groups)
}

func TestViewPreviewTruncation(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.LastMessagePreviewLength = 5

	res, err := env.conv.Create(context.Background(), &CreateRequest{
		SenderID:   1,
		Recipients: []string{"2"},
		Body:       strings.Repeat("x", 40),
		Mode:       constant.ModeSync,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 5), res.View.LastMessage)
}

func TestUnreadCountWithoutRedis(t *testing.T) {
	env := newTestEnv(t)
	assert.Zero(t, env.participants.UnreadCount(context.Background(), 5))
}
