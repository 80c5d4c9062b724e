package scrape

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from one status to another.
// processing→processing is accepted so an interrupted delivery can be re-run.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusDone || to == JobStatusError
	default:
		return false
	}
}

// Predecessors returns the statuses from which to is reachable.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusError} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Method selects the extraction strategy for a job.
type Method string

// Supported extraction methods.
const (
	MethodHTTP     Method = "http"
	MethodSelenium Method = "selenium"
)

// ParseMethod normalizes raw into a Method or returns a ConfigurationError.
func ParseMethod(raw string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodHTTP, MethodSelenium:
		return m, nil
	default:
		return "", &ConfigurationError{Message: fmt.Sprintf("unknown parse method %q", raw)}
	}
}

// Job is the durable record of one scraping request.
type Job struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Method       Method     `json:"method"`
	Status       JobStatus  `json:"status"`
	Result       *Result    `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Result is the structured payload produced by an extraction strategy.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Success     bool   `json:"success"`
	StatusCode  int    `json:"status_code,omitempty"`
	FinalURL    string `json:"final_url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	SnapshotURI string `json:"snapshot_uri,omitempty"`
	// Body holds the raw document for archiving; it is never persisted with the job.
	Body []byte `json:"-"`
}

// QueueItem is the dispatch payload. JobID doubles as the delivery idempotency key.
type QueueItem struct {
	JobID     string `json:"job_id"`
	URL       string `json:"url"`
	Method    Method `json:"method"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// StatusUpdate describes one status write applied through JobStore.SetStatus.
type StatusUpdate struct {
	Status       JobStatus
	Result       *Result
	ErrorMessage string
	At           time.Time
}

// Validate checks the result/error_message invariant for the target status.
func (u StatusUpdate) Validate() error {
	switch u.Status {
	case JobStatusDone:
		if u.Result == nil {
			return fmt.Errorf("%w: done requires a result", ErrInvalidTransition)
		}
		if u.ErrorMessage != "" {
			return fmt.Errorf("%w: done must not carry an error message", ErrInvalidTransition)
		}
	case JobStatusError:
		if u.ErrorMessage == "" {
			return fmt.Errorf("%w: error requires an error message", ErrInvalidTransition)
		}
		if u.Result != nil {
			return fmt.Errorf("%w: error must not carry a result", ErrInvalidTransition)
		}
	case JobStatusProcessing:
		if u.Result != nil || u.ErrorMessage != "" {
			return fmt.Errorf("%w: processing carries no outcome", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: cannot set status %q", ErrInvalidTransition, u.Status)
	}
	return nil
}

// Apply returns job with the update applied. It enforces CanTransition and Validate.
func (u StatusUpdate) Apply(job Job) (Job, error) {
	if err := u.Validate(); err != nil {
		return job, err
	}
	if !CanTransition(job.Status, u.Status) {
		return job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, u.Status)
	}
	job.Status = u.Status
	if u.Status.IsTerminal() {
		at := u.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		job.CompletedAt = &at
		job.Result = u.Result
		job.ErrorMessage = u.ErrorMessage
	}
	return job, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// DefaultListLimit bounds List when no limit is supplied.
const DefaultListLimit = 100

// Normalize applies default paging values.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
