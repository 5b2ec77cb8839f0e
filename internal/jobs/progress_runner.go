package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rinario-studio/inboxd/internal/entity"
	"github.com/rinario-studio/inboxd/internal/repository"
	"github.com/rinario-studio/inboxd/internal/sharding"
	"github.com/rinario-studio/inboxd/pkg/errcode"
	"github.com/rinario-studio/inboxd/pkg/logger"
)

// ProgressRunner drives a per-item batch over a Progress record: it
// transitions queued -> running on start, bumps the completion percentage
// as items finish, and lands on completed or failed.
//
// Per-item business errors (anything typed *errcode.Error) are recorded
// against the item and do not abort the batch; the batch still completes.
// Any other error escaping the item handler fails the whole batch, with
// the partial processed count embedded in the failure message.
type ProgressRunner struct {
	progress *entity.Progress
	repo     *repository.ProgressRepo
	shard    *sharding.Shard
	log      *logger.Logger

	completedCount   int
	itemErrors       map[string][]int64
	completedMessage func(count int) string
}

// NewProgressRunner creates a runner bound to one progress row on the
// shard it lives on.
func NewProgressRunner(progress *entity.Progress, repo *repository.ProgressRepo, shard *sharding.Shard, log *logger.Logger) *ProgressRunner {
	return &ProgressRunner{
		progress:   progress,
		repo:       repo,
		shard:      shard,
		log:        log,
		itemErrors: make(map[string][]int64),
		completedMessage: func(count int) string {
			return fmt.Sprintf("%d conversations processed", count)
		},
	}
}

// CompletedMessage overrides how the terminal success message is built
// from the processed count.
func (r *ProgressRunner) CompletedMessage(fn func(count int) string) {
	r.completedMessage = fn
}

// Run processes ids one at a time through fn.
func (r *ProgressRunner) Run(ctx context.Context, ids []int64, fn func(id int64) error) {
	r.progress.Start()
	if err := r.repo.Save(ctx, r.shard.DB, r.progress); err != nil {
		r.log.Errorw("progress start failed", "token", r.progress.Token, "err", err)
		return
	}

	total := len(ids)
	for i, id := range ids {
		if err := fn(id); err != nil {
			var be *errcode.Error
			if errors.As(err, &be) {
				r.itemErrors[be.Msg] = append(r.itemErrors[be.Msg], id)
			} else {
				r.fail(ctx, err)
				return
			}
		} else {
			r.completedCount++
		}
		r.progress.Completion = float64(i+1) / float64(total) * 100
		if err := r.repo.UpdateCompletion(ctx, r.shard.DB, r.progress); err != nil {
			r.log.Warnw("progress completion update failed", "token", r.progress.Token, "err", err)
		}
	}

	r.complete(ctx)
}

func (r *ProgressRunner) complete(ctx context.Context) {
	msg := r.completedMessage(r.completedCount)
	if extra := r.errorMessages(); extra != "" {
		msg = msg + "\n" + extra
	}
	r.progress.Complete(msg)
	if err := r.repo.Save(ctx, r.shard.DB, r.progress); err != nil {
		r.log.Errorw("progress complete failed", "token", r.progress.Token, "err", err)
	}
}

func (r *ProgressRunner) fail(ctx context.Context, cause error) {
	r.progress.Fail(fmt.Sprintf("%s before failure: %v", r.completedMessage(r.completedCount), cause))
	if err := r.repo.Save(ctx, r.shard.DB, r.progress); err != nil {
		r.log.Errorw("progress fail-state save failed", "token", r.progress.Token, "err", err)
	}
}

// errorMessages renders recorded per-item errors as "message: id, id" lines.
func (r *ProgressRunner) errorMessages() string {
	if len(r.itemErrors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(r.itemErrors))
	for msg := range r.itemErrors {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids := r.itemErrors[msg]
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("%d", id)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

// ProcessedCount returns how many items were applied successfully.
func (r *ProgressRunner) ProcessedCount() int {
	return r.completedCount
}
