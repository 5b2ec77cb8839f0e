package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/rinario-studio/inboxd/internal/entity"
)

// ProgressRepo is the repository for async operation trackers.
type ProgressRepo struct{}

// NewProgressRepo creates a new ProgressRepo
func NewProgressRepo() *ProgressRepo {
	return &ProgressRepo{}
}

// Create creates a progress row
func (r *ProgressRepo) Create(ctx context.Context, db *gorm.DB, p *entity.Progress) error {
	now := entity.NowUnixMilli()
	p.CreatedAt = now
	p.UpdatedAt = now
	return db.WithContext(ctx).Create(p).Error
}

// GetByToken gets a progress by its public token
func (r *ProgressRepo) GetByToken(ctx context.Context, db *gorm.DB, token string) (*entity.Progress, error) {
	var p entity.Progress
	err := db.WithContext(ctx).Where("token = ?", token).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Save persists all fields of the progress
func (r *ProgressRepo) Save(ctx context.Context, db *gorm.DB, p *entity.Progress) error {
	p.UpdatedAt = entity.NowUnixMilli()
	return db.WithContext(ctx).Save(p).Error
}

// UpdateCompletion writes just the completion percentage. Cheap enough to
// call per work chunk without rewriting the whole row.
func (r *ProgressRepo) UpdateCompletion(ctx context.Context, db *gorm.DB, p *entity.Progress) error {
	return db.WithContext(ctx).
		Model(&entity.Progress{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"completion": p.Completion,
			"updated_at": entity.NowUnixMilli(),
		}).Error
}

// BatchRepo is the repository for bulk-create batches.
type BatchRepo struct{}

// NewBatchRepo creates a new BatchRepo
func NewBatchRepo() *BatchRepo {
	return &BatchRepo{}
}

// Create creates a batch row
func (r *BatchRepo) Create(ctx context.Context, db *gorm.DB, b *entity.ConversationBatch) error {
	now := entity.NowUnixMilli()
	b.CreatedAt = now
	b.UpdatedAt = now
	return db.WithContext(ctx).Create(b).Error
}

// GetByToken gets a batch by its public token
func (r *BatchRepo) GetByToken(ctx context.Context, db *gorm.DB, token string) (*entity.ConversationBatch, error) {
	var b entity.ConversationBatch
	err := db.WithContext(ctx).Where("token = ?", token).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// Save persists all fields of the batch
func (r *BatchRepo) Save(ctx context.Context, db *gorm.DB, b *entity.ConversationBatch) error {
	b.UpdatedAt = entity.NowUnixMilli()
	return db.WithContext(ctx).Save(b).Error
}
