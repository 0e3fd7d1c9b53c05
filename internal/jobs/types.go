package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/forecast"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeTrainModels represents a model training job for one prefix.
	JobTypeTrainModels JobType = "train_models"
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

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 2

var (
	// ErrJobNotFound is returned by stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")

	// ErrPermanent marks handler errors that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

// Permanent wraps err so queues fail the job without retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// TrainJob asks for the model set of one prefix to be retrained.
type TrainJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// EntityID selects per-user training; empty trains the global set.
	EntityID string `json:"entity_id,omitempty"`

	// Category is the spend category to train.
	Category string `json:"category"`

	// LookBack and Horizon override the configured window sizes when set.
	LookBack int `json:"look_back,omitempty"`
	Horizon  int `json:"horizon,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`

	// Report is set once training succeeds.
	Report *forecast.TrainReport `json:"report,omitempty"`
}

// Request returns the training request the job describes.
func (j *TrainJob) Request() forecast.TrainRequest {
	return forecast.TrainRequest{
		EntityID: j.EntityID,
		Category: j.Category,
		LookBack: j.LookBack,
		Horizon:  j.Horizon,
	}
}

// Prefix is the artifact prefix the job trains.
func (j *TrainJob) Prefix() string {
	return j.Request().Prefix()
}

// Prepare fills in the ID, status, creation time and retry budget of a new job.
func (j *TrainJob) Prepare(newID func() string) {
	if j.JobID == "" {
		j.JobID = newID()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, RabbitMQ).
type Publisher interface {
	// PublishTrain publishes a training job.
	PublishTrain(ctx context.Context, job *TrainJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed; errors wrapping ErrPermanent
// are not retried.
type JobHandler func(ctx context.Context, job *TrainJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *TrainJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*TrainJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*TrainJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Prefix filters jobs by artifact prefix.
	Prefix string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
