package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/rinario-studio/inboxd/internal/entity"
)

func privateConv(tags ...string) *entity.Conversation {
	hash := entity.PrivateHashFor([]int64{1, 2}, "")
	return &entity.Conversation{
		PrivateHash: &hash,
		Tags:        datatypes.JSONSlice[string](tags),
	}
}

func TestConversationTagsContextWins(t *testing.T) {
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{1: {"course_9"}, 2: {"course_9"}},
	})
	conv := privateConv()
	conv.ContextType = "course"
	conv.ContextID = 7

	tags, err := infer.ConversationTags(context.Background(), conv, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_7"}, tags)
}

func TestConversationTagsSharedEnrollments(t *testing.T) {
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{
			1: {"course_7", "course_8", "group_3"},
			2: {"course_8", "group_3", "course_9"},
		},
	})

	tags, err := infer.ConversationTags(context.Background(), privateConv(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_8", "group_3"}, tags)
}

func TestConversationTagsNarrowedByStored(t *testing.T) {
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{
			1: {"course_7", "course_8"},
			2: {"course_7", "course_8"},
		},
	})

	tags, err := infer.ConversationTags(context.Background(), privateConv("course_8"), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_8"}, tags)
}

func TestConversationTagsKeepsStoredWhenEnrollmentsDrift(t *testing.T) {
	// Both users have left course_7; the thread keeps its history.
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{1: {"course_9"}, 2: {"course_9"}},
	})

	tags, err := infer.ConversationTags(context.Background(), privateConv("course_7"), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_7"}, tags)
}

func TestConversationTagsGroupStaysStored(t *testing.T) {
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{1: {"course_7"}, 2: {"course_7"}, 3: {"course_7"}},
	})
	conv := &entity.Conversation{Tags: datatypes.JSONSlice[string]{"course_5"}}

	tags, err := infer.ConversationTags(context.Background(), conv, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_5"}, tags)
}

func TestMessageTagsFallbackChain(t *testing.T) {
	infer := NewTagInference(&StaticEnrollments{
		Tags: map[int64][]string{1: {"course_8"}, 2: {"course_8"}},
	})
	ctx := context.Background()

	withContext := privateConv("course_8")
	withContext.ContextType = "course"
	withContext.ContextID = 7
	tags, err := infer.MessageTags(ctx, withContext, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_7"}, tags)

	tags, err = infer.MessageTags(ctx, privateConv("course_5"), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_5"}, tags)

	// Pre-migration row without stored tags infers from enrollments.
	tags, err = infer.MessageTags(ctx, privateConv(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"course_8"}, tags)
}
