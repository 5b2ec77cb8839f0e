package entity

import (
	"github.com/rinario-studio/inboxd/pkg/constant"
)

// Progress tracks one asynchronous operation. It lives on the owning
// user's home shard and is polled by its public token.
type Progress struct {
	ID            int64   `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	Token         string  `json:"id" gorm:"column:token;uniqueIndex"`
	UserID        int64   `json:"user_id" gorm:"column:user_id;index"`
	Tag           string  `json:"tag" gorm:"column:tag"`
	WorkflowState string  `json:"workflow_state" gorm:"column:workflow_state;default:queued"`
	Completion    float64 `json:"completion" gorm:"column:completion"`
	Message       string  `json:"message" gorm:"column:message"`
	CreatedAt     int64   `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt     int64   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime:milli"`
}

// TableName returns the table name for Progress
func (Progress) TableName() string {
	return "progresses"
}

// Start transitions queued -> running.
func (p *Progress) Start() {
	p.WorkflowState = constant.ProgressRunning
}

// Complete transitions to the completed terminal state.
func (p *Progress) Complete(message string) {
	p.WorkflowState = constant.ProgressCompleted
	p.Completion = 100
	p.Message = message
}

// Fail transitions to the failed terminal state. The message keeps the
// partial success count so callers can see how far the batch got.
func (p *Progress) Fail(message string) {
	p.WorkflowState = constant.ProgressFailed
	p.Message = message
}

// Terminal reports whether the progress reached an end state.
func (p *Progress) Terminal() bool {
	return p.WorkflowState == constant.ProgressCompleted || p.WorkflowState == constant.ProgressFailed
}
