package ledger

import (
	"context"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// JobFilter narrows a job listing. Listings are ordered newest first.
type JobFilter struct {
	Status   Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the position of the last job on the previous page.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// Lister is implemented by backends that can enumerate their jobs. List returns up
// to PageSize+1 jobs so callers can tell whether another page follows. Delivery
// secrets are never populated.
type Lister interface {
	List(ctx context.Context, filter JobFilter) ([]Job, error)
}

func (f JobFilter) limit() int {
	switch {
	case f.PageSize <= 0:
		return DefaultPageSize
	case f.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return f.PageSize
}

// after reports whether job sorts after the cursor in newest-first order.
func (c *JobCursor) after(job *Job) bool {
	if c == nil {
		return true
	}
	if !job.CreatedAt.Equal(c.CreatedAt) {
		return job.CreatedAt.Before(c.CreatedAt)
	}
	return job.ID < c.JobID
}

// Purger is implemented by backends whose expired results are not dropped by
// the store itself.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
