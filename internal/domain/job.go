package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders the lifecycle; a record only ever moves to a higher rank.
var statusRank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusPending:    1,
	JobStatusProcessing: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the status is completed or failed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a record in status from may move to to.
// Terminal records never move; everything else only moves forward.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// PredecessorsOf lists the statuses allowed to transition into to.
func PredecessorsOf(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusQueued, JobStatusPending, JobStatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Job is the durable record of one generation request.
type Job struct {
	ID              string
	UserID          string
	Prompt          string
	AspectRatio     string
	Sequence        int
	Status          JobStatus
	ArtifactURL     string
	ErrorMessage    string
	CredentialID    string
	OperationName   string
	CorrelationID   string
	Retried         bool
	RegeneratedFrom string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QueuedJob is the in-memory queue entry handed to the scheduler.
type QueuedJob struct {
	JobID       string
	UserID      string
	Prompt      string
	AspectRatio string
	Sequence    int
}

// QueuedJobFor builds the queue entry for a persisted record.
func QueuedJobFor(j *Job) QueuedJob {
	return QueuedJob{
		JobID:       j.ID,
		UserID:      j.UserID,
		Prompt:      j.Prompt,
		AspectRatio: j.AspectRatio,
		Sequence:    j.Sequence,
	}
}

// StatusUpdate carries the optional fields written with a status change.
// Empty strings leave the stored value untouched.
type StatusUpdate struct {
	ArtifactURL  string
	ErrorMessage string
	CredentialID string
}

// Submission describes an accepted provider request for a job.
type Submission struct {
	CredentialID  string
	OperationName string
	CorrelationID string
	Retried       bool
}

// BatchSettings controls scheduler pacing.
type BatchSettings struct {
	JobsPerBatch           int `json:"jobs_per_batch" yaml:"jobs_per_batch"`
	InterBatchDelaySeconds int `json:"inter_batch_delay_seconds" yaml:"inter_batch_delay_seconds"`
}

// InterBatchDelay returns the delay as a duration.
func (b BatchSettings) InterBatchDelay() time.Duration {
	return time.Duration(b.InterBatchDelaySeconds) * time.Second
}
