package model

import "time"

// Queue priorities. Higher runs first.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 5
)

// QueueEntry is one pending OCR job.
type QueueEntry struct {
	ID         int64     `json:"id"`
	FrameID    int64     `json:"frame_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	LastError  *string   `json:"last_error,omitempty"`
}

// QueueJob is what a worker receives from Dequeue.
type QueueJob struct {
	QueueID    int64 `json:"queue_id"`
	FrameID    int64 `json:"frame_id"`
	RetryCount int   `json:"retry_count"`
}

// EnqueueOutcome is the expected result of a conditional enqueue.
type EnqueueOutcome int

const (
	// Enqueued means a job row was inserted.
	Enqueued EnqueueOutcome = iota
	// EnqueueNotEligible means the frame is missing, not pending, or already queued.
	EnqueueNotEligible
)

func (o EnqueueOutcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case EnqueueNotEligible:
		return "not_eligible"
	default:
		return "unknown"
	}
}

// RetryOutcome is the result of rescheduling a failed job.
type RetryOutcome int

const (
	// Requeued means the job went back on the queue.
	Requeued RetryOutcome = iota
	// RetryExhausted means the retry budget ran out and the frame was marked failed.
	RetryExhausted
)

func (o RetryOutcome) String() string {
	switch o {
	case Requeued:
		return "requeued"
	case RetryExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
