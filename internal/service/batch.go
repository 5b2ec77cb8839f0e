package service

import (
	"context"

	"gorm.io/datatypes"

	"github.com/rinario-studio/inboxd/internal/config"
	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/jobs"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/pkg/constant"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/idgen"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// BatchUpdater runs the asynchronous bulk operations: applying one
// workflow event to a list of conversations, and bulk-creating private
// conversations to many recipients. Both return a handle immediately and
// execute on the background queue.
type BatchUpdater struct {
	repos        *repository.Repositories
	progressRepo *repository.ProgressRepo
	batchRepo    *repository.BatchRepo
	participants *ParticipantService
	router       *Router
	fanout       *Fanout
	queue        *jobs.Queue
	cfg          *config.ConversationsConfig
	log          *logger.Logger
}

// NewBatchUpdater creates a new BatchUpdater
func NewBatchUpdater(repos *repository.Repositories, participants *ParticipantService, router *Router, fanout *Fanout, queue *jobs.Queue, cfg *config.ConversationsConfig, log *logger.Logger) *BatchUpdater {
	return &BatchUpdater{
		repos:        repos,
		progressRepo: repos.Progress,
		batchRepo:    repos.Batch,
		participants: participants,
		router:       router,
		fanout:       fanout,
		queue:        queue,
		cfg:          cfg,
		log:          log,
	}
}

// BatchUpdate applies one workflow event to the user's views of the given
// conversations. The size cap is enforced before anything is queued; per
// item, a missing participant row is a recorded skip, not a failure. The
// returned Progress is polled by its token.
func (b *BatchUpdater) BatchUpdate(ctx context.Context, userID int64, event string, conversationIDs []int64) (*entity.Progress, error) {
	if !constant.IsBatchEvent(event) {
		return nil, errcode.ErrInvalidEvent.WithField("event")
	}
	if len(conversationIDs) == 0 {
		return nil, errcode.ErrMissingField.WithField("conversation_ids")
	}
	if len(conversationIDs) > b.cfg.BatchUpdateCap {
		return nil, errcode.ErrBatchLimitExceeded.WithField("conversation_ids").
			WithMsg("you can update up to %d conversations at a time", b.cfg.BatchUpdateCap)
	}

	token, err := idgen.NextID()
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	progress := &entity.Progress{
		Token:         token,
		UserID:        userID,
		Tag:           constant.ProgressTagBatchUpdate,
		WorkflowState: constant.ProgressQueued,
	}
	home := b.repos.Cluster.HomeShard(userID)
	if err := b.progressRepo.Create(ctx, home.DB, progress); err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	ids := append([]int64(nil), conversationIDs...)
	job := func(jobCtx context.Context) {
		runner := jobs.NewProgressRunner(progress, b.progressRepo, home, b.log)
		runner.Run(jobCtx, ids, func(id int64) error {
			return b.participants.UpdateOne(jobCtx, userID, id, event)
		})
	}
	if err := b.queue.Enqueue(job); err != nil {
		b.log.Warnw("queue full, running batch update inline", "user_id", userID, "token", token)
		job(ctx)
	}
	return progress, nil
}

// GetProgress polls a progress record by token.
func (b *BatchUpdater) GetProgress(ctx context.Context, userID int64, token string) (*entity.Progress, error) {
	home := b.repos.Cluster.HomeShard(userID)
	progress, err := b.progressRepo.GetByToken(ctx, home.DB, token)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if progress == nil || progress.UserID != userID {
		return nil, errcode.ErrProgressNotFound
	}
	return progress, nil
}

// BulkCreateRequest is one message to deliver to each recipient as its
// own private conversation.
type BulkCreateRequest struct {
	SenderID     int64
	RecipientIDs []int64
	Subject      string
	Body         string
	ContextType  string
	ContextID    int64
}

// BulkCreate records the batch and replays the message into a separate
// private conversation per recipient on the background queue, reusing
// existing private threads. The batch reaches the sent state once every
// recipient's conversation exists.
func (b *BatchUpdater) BulkCreate(ctx context.Context, req *BulkCreateRequest) (*entity.ConversationBatch, error) {
	if len(req.RecipientIDs) == 0 {
		return nil, errcode.ErrEmptyRecipients.WithField("recipients")
	}
	if req.Body == "" {
		return nil, errcode.ErrMissingField.WithField("body")
	}
	if len(req.Body) > b.cfg.MaxMessageLength {
		return nil, errcode.ErrBodyTooLong.WithField("body")
	}
	if len(req.Subject) > b.cfg.MaxSubjectLength {
		return nil, errcode.ErrSubjectTooLong.WithField("subject")
	}

	token, err := idgen.NextID()
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	batch := &entity.ConversationBatch{
		Token:         token,
		UserID:        req.SenderID,
		WorkflowState: constant.BatchCreated,
		Subject:       req.Subject,
		Body:          req.Body,
		RecipientIDs:  datatypes.NewJSONSlice(req.RecipientIDs),
		ContextType:   req.ContextType,
		ContextID:     req.ContextID,
	}
	home := b.repos.Cluster.HomeShard(req.SenderID)
	if err := b.batchRepo.Create(ctx, home.DB, batch); err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	job := func(jobCtx context.Context) {
		b.runBulkCreate(jobCtx, batch, req)
	}
	if err := b.queue.Enqueue(job); err != nil {
		b.log.Warnw("queue full, running bulk create inline", "user_id", req.SenderID, "token", token)
		job(ctx)
	}
	return batch, nil
}

func (b *BatchUpdater) runBulkCreate(ctx context.Context, batch *entity.ConversationBatch, req *BulkCreateRequest) {
	home := b.repos.Cluster.HomeShard(req.SenderID)
	convIDs := make([]int64, 0, len(req.RecipientIDs))
	for _, recipientID := range req.RecipientIDs {
		ref, err := b.router.Resolve(ctx, &ResolveRequest{
			SenderID:     req.SenderID,
			RecipientIDs: []int64{recipientID},
			ContextType:  req.ContextType,
			ContextID:    req.ContextID,
			Subject:      req.Subject,
		})
		if err != nil {
			b.log.Errorw("bulk create: resolve failed", "token", batch.Token, "recipient_id", recipientID, "err", err)
			continue
		}
		if _, err := b.fanout.AddMessage(ctx, &AddMessageRequest{
			ConversationID: ref.GlobalID,
			AuthorID:       req.SenderID,
			Body:           req.Body,
			Mode:           constant.ModeSync,
		}); err != nil {
			b.log.Errorw("bulk create: send failed", "token", batch.Token, "recipient_id", recipientID, "err", err)
			continue
		}
		convIDs = append(convIDs, ref.GlobalID)
	}

	batch.ConversationIDs = datatypes.NewJSONSlice(convIDs)
	batch.WorkflowState = constant.BatchSent
	if err := b.batchRepo.Save(ctx, home.DB, batch); err != nil {
		b.log.Errorw("bulk create: save failed", "token", batch.Token, "err", err)
	}
}

// GetBatch polls a conversation batch by token.
func (b *BatchUpdater) GetBatch(ctx context.Context, userID int64, token string) (*entity.ConversationBatch, error) {
	home := b.repos.Cluster.HomeShard(userID)
	batch, err := b.batchRepo.GetByToken(ctx, home.DB, token)
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	if batch == nil || batch.UserID != userID {
		return nil, errcode.ErrBatchNotFound
	}
	return batch, nil
}
