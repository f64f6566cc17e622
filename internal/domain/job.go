package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the execution status of a network job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobCanceled  JobStatus = "canceled"
	JobFailed    JobStatus = "failed"
)

// Event returns the job log event name for the status
func (s JobStatus) Event() string {
	return "job_" + string(s)
}

// Job is one unit of scheduled network work. It is immutable once submitted.
type Job struct {
	ID           string
	Method       string
	URL          string
	AuthRequired bool
	CachePolicy  CachePolicy
	Payload      []byte
	ResourceType string
	ResourceID   string
	CreatedAt    time.Time
}

// NewJob creates a job with a fresh id
func NewJob(method, url string, authRequired bool, policy CachePolicy, payload []byte) *Job {
	return &Job{
		ID:           uuid.New().String(),
		Method:       method,
		URL:          url,
		AuthRequired: authRequired,
		CachePolicy:  policy,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}
}

// HasResource reports whether the job result maps onto a cached resource
func (j *Job) HasResource() bool {
	return j.ResourceType != "" && j.ResourceID != ""
}

// Response is the raw result of a network job
type Response struct {
	StatusCode int
	Body       []byte
	ETag       string
	Version    int64
	ReceivedAt time.Time
}

// ResultKind distinguishes the variants of a fetch result
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultFailure  ResultKind = "failure"
	ResultCanceled ResultKind = "canceled"
)

// FetchResult is delivered to fetch handlers on the delivery context
type FetchResult struct {
	JobID     string     `json:"job_id,omitempty"`
	Kind      ResultKind `json:"kind"`
	Resource  *Resource  `json:"resource,omitempty"`
	FromCache bool       `json:"from_cache"`
	Err       error      `json:"-"`
}

// OK reports whether the result carries a resource
func (r FetchResult) OK() bool {
	return r.Kind == ResultSuccess
}
