package domain

import "time"

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateSubmitted  JobState = "SUBMITTED"
	JobStateInProgress JobState = "IN_PROGRESS"
	JobStateSucceeded  JobState = "SUCCEEDED"
	JobStateFailed     JobState = "FAILED"
	JobStateCancelled  JobState = "CANCELLED"
	JobStateTimedOut   JobState = "TIMED_OUT"
)

// Terminal reports whether the state ends the job lifecycle. A job in a
// terminal state never transitions again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled, JobStateTimedOut:
		return true
	}
	return false
}

// NonTerminalStates lists every state a live job can occupy. Used as the
// from-set for timeout and cancellation transitions.
var NonTerminalStates = []JobState{JobStatePending, JobStateSubmitted, JobStateInProgress}

// Job encapsulates one generation request's lifecycle, from submission to
// terminal outcome. The job registry owns every Job; callers only ever see
// copies and mutate through registry transitions.
type Job struct {
	ID             string
	ModelID        string
	ClientID       string
	State          JobState
	ProviderHandle string
	Result         *NormalizedResult
	ErrorKind      string
	ErrorMessage   string
	SubmittedAt    time.Time
	UpdatedAt      time.Time
	// Delivered marks that a terminal result has been returned to at least
	// one poll, making the job eligible for retention eviction.
	Delivered bool
}

// Age returns how long the job has been alive relative to now.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.SubmittedAt)
}
