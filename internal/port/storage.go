package port

import (
	"context"
	"database/sql"
	"time"

	"github.com/bnema/transcoder/internal/domain"
)

// JobUpdate is a partial update of a job record. Nil fields are left
// untouched. An empty ErrorMessage or OutputFileID clears the column.
type JobUpdate struct {
	// From guards the update: when set it only applies while the job is in
	// this status.
	From domain.JobStatus

	Status       *domain.JobStatus
	Progress     *int
	ErrorMessage *string
	OutputFileID *string
	WorkerID     *string
	RetryCount   *int
	StartedAt    *sql.NullTime
	CompletedAt  *sql.NullTime

	// ForwardOnly applies Progress only when it is greater than the stored value.
	ForwardOnly bool
}

type JobFilter struct {
	UserID string
	Status domain.JobStatus
	Limit  int
}

type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// UpdateJob applies upd atomically. It returns false without error when a
	// guard did not match, and domain.ErrNotFound when the job does not exist.
	UpdateJob(ctx context.Context, id string, upd JobUpdate) (bool, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

type FileStore interface {
	CreateFile(ctx context.Context, f *domain.File) error
	GetFile(ctx context.Context, id string) (*domain.File, error)
	// DeleteFile removes the record only; the stored bytes are the caller's.
	DeleteFile(ctx context.Context, id string) error
	SaveMetadata(ctx context.Context, m *domain.FileMetadata) error
	GetMetadata(ctx context.Context, fileID string) (*domain.FileMetadata, error)
}

// RetentionStore finds and removes file records past their expiry.
type RetentionStore interface {
	// ListExpiredFiles returns files that expired before now and are not the
	// input of a pending or processing job, oldest expiry first.
	ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]*domain.File, error)
	// PurgeFile deletes the record, its metadata and every finished job that
	// used it. It fails with domain.ErrFileInUse when an active job needs it.
	PurgeFile(ctx context.Context, id string) error
}
