// Package jobs defines background work that runs outside the request path.
// The only job today mirrors newly written ledger transactions into Notion.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeMirrorTransactions copies ledger transactions to an external mirror.
	JobTypeMirrorTransactions JobType = "mirror_transactions"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// MirrorTransactionsJob asks for the given transactions of one user to be
// written to the mirror.
type MirrorTransactionsJob struct {
	JobID          string     `json:"job_id"`
	UserID         string     `json:"user_id"`
	TransactionIDs []string   `json:"transaction_ids"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *MirrorTransactionsJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *MirrorTransactionsJob) GetType() JobType {
	return JobTypeMirrorTransactions
}

// GetStatus implements the Job interface.
func (j *MirrorTransactionsJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher enqueues jobs.
type Publisher interface {
	PublishMirrorTransactions(ctx context.Context, job *MirrorTransactionsJob) error
	Close() error
}

// Consumer runs a handler over queued jobs.
type Consumer interface {
	// Start begins consuming jobs. The handler is called for each job.
	Start(ctx context.Context, handler JobHandler) error
	// Stop stops consuming and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A non-nil error marks the job for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore records job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *MirrorTransactionsJob) error
	GetJob(ctx context.Context, jobID string) (*MirrorTransactionsJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*MirrorTransactionsJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UserID string
	Status JobStatus
	Limit  int
	Offset int
}

// NopPublisher drops every job. It stands in when no mirror is configured.
type NopPublisher struct{}

func (NopPublisher) PublishMirrorTransactions(ctx context.Context, job *MirrorTransactionsJob) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}
