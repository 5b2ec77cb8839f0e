package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/handler"
	"github.com/rinario-studio/inboxd/internal/jobs"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/router"
	"github.com/rinario-studio/inboxd/internal/service"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	logger.Init(log)

	log.Infow("config loaded", "mode", cfg.Server.Mode, "shards", len(cfg.Shards))

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.Errorw("failed to initialize repositories", "err", err)
		panic(err)
	}
	defer repos.Close()

	if err := repos.CheckConnection(ctx); err != nil {
		log.Errorw("connection check failed", "err", err)
		panic(err)
	}
	if err := repos.AutoMigrate(); err != nil {
		log.Errorw("migration failed", "err", err)
		panic(err)
	}
	log.Infow("shard connections established")

	// Background job queue
	queue := jobs.NewQueue(cfg.Jobs.Workers, cfg.Jobs.QueueSize, log)
	queue.Start(ctx)
	defer queue.Stop()

	// External collaborators. Swap these for real policy, enrollment and
	// notification backends when wiring into a full deployment.
	var (
		perms       service.PermissionChecker = service.AllowAllPermissions{}
		enrollments service.EnrollmentSource  = &service.StaticEnrollments{}
		notifier    service.Notifier          = service.NopNotifier{}
	)

	// Initialize services
	tags := service.NewTagInference(enrollments)
	state := service.NewStateCache(repos)
	convRouter := service.NewRouter(repos, perms, enrollments, tags, &cfg.Conversations, log)
	fanout := service.NewFanout(repos, convRouter, state, tags, notifier, queue, &cfg.Conversations, log)
	participants := service.NewParticipantService(repos, convRouter, state, log)
	batch := service.NewBatchUpdater(repos, participants, convRouter, fanout, queue, &cfg.Conversations, log)
	views := service.NewViewBuilder(repos, convRouter, &cfg.Conversations, log)
	convService := service.NewConversationService(repos, convRouter, fanout, participants, batch, views, &cfg.Conversations, log)

	// Initialize handlers
	handlers := &router.Handlers{
		Conversation: handler.NewConversationHandler(convService, participants),
		Batch:        handler.NewBatchHandler(batch),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	router.SetupRouter(h, handlers)

	log.Infow("server starting", "port", cfg.Server.HTTPPort)

	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	if err := h.Shutdown(ctx); err != nil {
		log.Errorw("shutdown failed", "err", err)
	}
}
