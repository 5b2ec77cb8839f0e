package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/sharding"
)

// Repositories holds the shard cluster and all repositories.
type Repositories struct {
	Cluster *sharding.Cluster
	Redis   *redis.Client

	Conversation *ConversationRepo
	Message      *MessageRepo
	Participant  *ParticipantRepo
	Progress     *ProgressRepo
	Batch        *BatchRepo
	Cache        Cache
}

// NewRepositories opens one MySQL connection per configured shard plus
// Redis, and wires all repositories.
func NewRepositories(cfg *config.Config) (*Repositories, error) {
	var logLevel logger.LogLevel
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	} else {
		logLevel = logger.Warn
	}

	shards := make([]*sharding.Shard, 0, len(cfg.Shards))
	for _, sc := range cfg.Shards {
		db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN(sc)), &gorm.Config{
			Logger: logger.Default.LogMode(logLevel),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)

		shards = append(shards, &sharding.Shard{ID: sc.ID, DB: db})
	}

	cluster, err := sharding.NewCluster(shards)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return NewRepositoriesWithCluster(cluster, rdb), nil
}

// NewRepositoriesWithCluster wires repositories over an existing cluster.
// Tests use this with sqlite-backed shards and a nil redis client.
func NewRepositoriesWithCluster(cluster *sharding.Cluster, rdb *redis.Client) *Repositories {
	return &Repositories{
		Cluster:      cluster,
		Redis:        rdb,
		Conversation: NewConversationRepo(),
		Message:      NewMessageRepo(),
		Participant:  NewParticipantRepo(),
		Progress:     NewProgressRepo(),
		Batch:        NewBatchRepo(),
		Cache:        NewCache(rdb),
	}
}

// AutoMigrate creates the schema on every shard. Every shard carries the
// full schema: which tables are populated depends on row placement.
func (r *Repositories) AutoMigrate() error {
	for _, s := range r.Cluster.Shards() {
		err := s.DB.AutoMigrate(
			&entity.Conversation{},
			&entity.ConversationMessage{},
			&entity.ConversationMessageParticipant{},
			&entity.ConversationParticipant{},
			&entity.ConversationBatch{},
			&entity.Progress{},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Transaction executes fn in a transaction on the given shard. Cross-shard
// writes are never transactional; callers order them so the conversation
// shard commits first and replicas are repairable.
func (r *Repositories) Transaction(ctx context.Context, s *sharding.Shard, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// Close closes all shard connections and redis.
func (r *Repositories) Close() error {
	for _, s := range r.Cluster.Shards() {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	if r.Redis != nil {
		return r.Redis.Close()
	}
	return nil
}

// CheckConnection checks shard and redis connectivity.
func (r *Repositories) CheckConnection(ctx context.Context) error {
	for _, s := range r.Cluster.Shards() {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
