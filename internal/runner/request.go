package runner

import (
	"context"
	"time"

	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Request tracks one queued execution of a job.
type Request struct {
	ID     types.RunID
	Key    types.JobKey
	Job    *state.Job
	Source string
	Status Status

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Report    *Report
	Error     error

	Ctx        context.Context
	OnComplete func(*Report)
}

// NewRequest creates a queued request. Requests of the same job share a
// lane and run one after another.
func NewRequest(job *state.Job, source string) *Request {
	return &Request{
		ID:        types.NewRunID(),
		Key:       types.NewJobKey("job", job.Name),
		Job:       job,
		Source:    source,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}
