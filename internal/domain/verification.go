package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the verification state machine's state.
type JobState int

const (
	JobPending JobState = iota
	JobVerifying
	JobRetrying
	JobSucceeded
	JobFailed
	JobGaveUp
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobVerifying:
		return "verifying"
	case JobRetrying:
		return "retrying"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobGaveUp:
		return "gave_up"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobGaveUp, JobCancelled:
		return true
	}
	return false
}

// VerificationJob tracks one payment verification through its retries.
// The worker owns the job exclusively; everything else sees snapshots.
type VerificationJob struct {
	ID        uuid.UUID
	Reference string

	// Webhook is the payload snapshot that triggered the job, nil for
	// manually triggered verifications.
	Webhook  map[string]interface{}
	ClientIP string

	State     JobState
	Attempts  int
	CreatedAt time.Time
}

// NewVerificationJob creates a pending job for a transaction reference.
func NewVerificationJob(reference string, webhook map[string]interface{}, clientIP string) *VerificationJob {
	return &VerificationJob{
		ID:        uuid.New(),
		Reference: reference,
		Webhook:   webhook,
		ClientIP:  clientIP,
		State:     JobPending,
		CreatedAt: time.Now(),
	}
}
