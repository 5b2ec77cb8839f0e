package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/jobs"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

type testEnv struct {
	repos        *repository.Repositories
	cluster      *sharding.Cluster
	queue        *jobs.Queue
	cfg          *config.ConversationsConfig
	enrollments  *StaticEnrollments
	tags         *TagInference
	state        *StateCache
	router       *Router
	fanout       *Fanout
	participants *ParticipantService
	batch        *BatchUpdater
	views        *ViewBuilder
	conv         *ConversationService
}

func openTestShard(t *testing.T, id int64) *sharding.Shard {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_s%d?mode=memory&cache=shared", name, id)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return &sharding.Shard{ID: id, DB: db}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cluster, err := sharding.NewCluster([]*sharding.Shard{
		openTestShard(t, 1),
		openTestShard(t, 2),
	})
	require.NoError(t, err)

	repos := repository.NewRepositoriesWithCluster(cluster, nil)
	require.NoError(t, repos.AutoMigrate())

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	log := logger.Nop()
	enr := &StaticEnrollments{
		Tags:      map[int64][]string{},
		Audiences: map[string][]int64{},
	}
	tags := NewTagInference(enr)
	state := NewStateCache(repos)
	router := NewRouter(repos, AllowAllPermissions{}, enr, tags, &cfg.Conversations, log)

	queue := jobs.NewQueue(1, 256, log)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	fanout := NewFanout(repos, router, state, tags, NopNotifier{}, queue, &cfg.Conversations, log)
	participants := NewParticipantService(repos, router, state, log)
	batch := NewBatchUpdater(repos, participants, router, fanout, queue, &cfg.Conversations, log)
	views := NewViewBuilder(repos, router, &cfg.Conversations, log)
	conv := NewConversationService(repos, router, fanout, participants, batch, views, &cfg.Conversations, log)

	return &testEnv{
		repos:        repos,
		cluster:      cluster,
		queue:        queue,
		cfg:          &cfg.Conversations,
		enrollments:  enr,
		tags:         tags,
		state:        state,
		router:       router,
		fanout:       fanout,
		participants: participants,
		batch:        batch,
		views:        views,
		conv:         conv,
	}
}

// drain blocks until every job enqueued so far has run. The queue has a
// single worker, so a marker job completing means its predecessors did.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, e.queue.Enqueue(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
}

func (e *testEnv) resolve(t *testing.T, req *ResolveRequest) *ConversationRef {
	t.Helper()
	ref, err := e.router.Resolve(context.Background(), req)
	require.NoError(t, err)
	return ref
}

func (e *testEnv) startGroup(t *testing.T, sender int64, recipients []int64, body string) *ConversationRef {
	t.Helper()
	ref := e.resolve(t, &ResolveRequest{
		SenderID:          sender,
		RecipientIDs:      recipients,
		GroupConversation: true,
	})
	e.send(t, ref.GlobalID, sender, body)
	return ref
}

func (e *testEnv) startPrivate(t *testing.T, sender, recipient int64, body string) *ConversationRef {
	t.Helper()
	ref := e.resolve(t, &ResolveRequest{
		SenderID:     sender,
		RecipientIDs: []int64{recipient},
	})
	e.send(t, ref.GlobalID, sender, body)
	return ref
}

// send publishes one message synchronously. The leading sleep keeps
// created_at strictly increasing across sends, which the freeze and
// resubscribe rules compare on.
func (e *testEnv) send(t *testing.T, conversationID, author int64, body string) *entity.ConversationMessage {
	t.Helper()
	time.Sleep(2 * time.Millisecond)
	msg, err := e.fanout.AddMessage(context.Background(), &AddMessageRequest{
		ConversationID: conversationID,
		AuthorID:       author,
		Body:           body,
		Mode:           constant.ModeSync,
	})
	require.NoError(t, err)
	return msg
}

// participant reads the authoritative row from the conversation shard.
func (e *testEnv) participant(t *testing.T, ref *ConversationRef, userID int64) *entity.ConversationParticipant {
	t.Helper()
	p, err := e.repos.Participant.Get(context.Background(), ref.Shard.DB, ref.GlobalID, userID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

// remoteUser returns a user id whose home shard differs from the
// conversation's shard, so replica behavior is observable.
func (e *testEnv) remoteUser(ref *ConversationRef, from int64) int64 {
	for id := from; ; id++ {
		if e.cluster.HomeShard(id).ID != ref.Shard.ID {
			return id
		}
	}
}

// memoryCache is a map-backed repository.Cache, so counter and
// participant-list caching are observable without a Redis server. The
// queue worker may touch it concurrently with the test goroutine.
type memoryCache struct {
	mu           sync.Mutex
	participants map[int64][]int64
	unread       map[int64]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		participants: map[int64][]int64{},
		unread:       map[int64]int64{},
	}
}

func (m *memoryCache) GetParticipants(_ context.Context, conversationID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[conversationID]
}

func (m *memoryCache) SetParticipants(_ context.Context, conversationID int64, ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[conversationID] = ids
}

func (m *memoryCache) InvalidateParticipants(_ context.Context, conversationID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, conversationID)
}

func (m *memoryCache) IncrUnread(_ context.Context, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[userID]++
}

func (m *memoryCache) DecrUnread(_ context.Context, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unread[userID] > 0 {
		m.unread[userID]--
	}
}

func (m *memoryCache) GetUnread(_ context.Context, userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[userID]
}

// withCounterCache swaps the inert nil-client cache for an in-memory
// one, so tests can observe counter movement.
func (e *testEnv) withCounterCache() *memoryCache {
	c := newMemoryCache()
	e.repos.Cache = c
	return c
}

func requireCode(t *testing.T, err error, want *errcode.Error) {
	t.Helper()
	var be *errcode.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, want.Code, be.Code)
}
