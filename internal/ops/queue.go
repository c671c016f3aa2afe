package ops

import (
	"context"
	"strings"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// EnqueueInput contains parameters for the Enqueue operation.
type EnqueueInput struct {
	FrameID  int64
	Priority *int // default: PriorityNormal
}

// EnqueueOutput reports whether a job was created.
type EnqueueOutput struct {
	FrameID  int64  `json:"frame_id"`
	Outcome  string `json:"outcome"`
	Position int    `json:"position,omitempty"`
}

// Enqueue schedules OCR for a pending frame. An ineligible frame is a normal
// outcome, not an error.
func Enqueue(ctx context.Context, database *db.DB, input EnqueueInput) (*EnqueueOutput, error) {
	if input.FrameID <= 0 {
		return nil, errors.NewInvalidRequest("frame_id is required")
	}
	priority := model.PriorityNormal
	if input.Priority != nil {
		if *input.Priority < 0 {
			return nil, errors.NewInvalidRequest("priority must not be negative")
		}
		priority = *input.Priority
	}

	outcome, err := database.Enqueue(ctx, input.FrameID, priority)
	if err != nil {
		return nil, err
	}
	out := &EnqueueOutput{FrameID: input.FrameID, Outcome: outcome.String()}
	if outcome == model.Enqueued {
		pos, ok, err := database.QueuePosition(ctx, input.FrameID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Position = pos
		}
	}
	return out, nil
}

// NextJob takes the next job off the queue, or returns nil when it is empty.
func NextJob(ctx context.Context, database *db.DB) (*model.QueueJob, error) {
	return database.Dequeue(ctx)
}

// FailJobInput contains parameters for the FailJob operation.
type FailJobInput struct {
	FrameID    int64
	RetryCount int
	Error      string
}

// FailJobOutput reports what happened to a failed job.
type FailJobOutput struct {
	FrameID int64  `json:"frame_id"`
	Outcome string `json:"outcome"`
}

// FailJob records an OCR failure and reschedules or retires the frame.
func FailJob(ctx context.Context, database *db.DB, input FailJobInput) (*FailJobOutput, error) {
	if input.FrameID <= 0 {
		return nil, errors.NewInvalidRequest("frame_id is required")
	}
	if input.RetryCount < 0 {
		return nil, errors.NewInvalidRequest("retry_count must not be negative")
	}
	msg := strings.TrimSpace(input.Error)
	if msg == "" {
		msg = "unknown error"
	}
	outcome, err := database.Retry(ctx, input.FrameID, input.RetryCount, msg)
	if err != nil {
		return nil, err
	}
	return &FailJobOutput{FrameID: input.FrameID, Outcome: outcome.String()}, nil
}

// QueueStatusOutput summarizes the queue.
type QueueStatusOutput struct {
	Depth      int                `json:"depth"`
	Processing int                `json:"processing"`
	Entries    []model.QueueEntry `json:"entries"`
}

// QueueStatus returns the queue depth, the number of frames being processed
// and the first limit entries in dequeue order.
func QueueStatus(ctx context.Context, database *db.DB, limit int) (*QueueStatusOutput, error) {
	limit = clampLimit(limit, DefaultQueueList, MaxQueueList)

	depth, err := database.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	processing, err := database.FramesWithProcessingStatus(ctx, model.ProcessingInProgress, 0)
	if err != nil {
		return nil, err
	}
	entries, err := database.QueueEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	return &QueueStatusOutput{Depth: depth, Processing: len(processing), Entries: entries}, nil
}

// QueuePositionOutput is a frame's place in line.
type QueuePositionOutput struct {
	FrameID  int64 `json:"frame_id"`
	Queued   bool  `json:"queued"`
	Position int   `json:"position,omitempty"`
}

// QueuePosition reports where a frame sits in the queue.
func QueuePosition(ctx context.Context, database *db.DB, frameID int64) (*QueuePositionOutput, error) {
	pos, ok, err := database.QueuePosition(ctx, frameID)
	if err != nil {
		return nil, err
	}
	return &QueuePositionOutput{FrameID: frameID, Queued: ok, Position: pos}, nil
}

// RecoverOutput reports a crash-recovery pass.
type RecoverOutput struct {
	Found      int     `json:"found"`
	Requeued   []int64 `json:"requeued"`
	Ineligible int     `json:"ineligible"`
}

// RecoverOrphans requeues frames left in the processing state by a crash.
// Run it before starting workers; a frame being worked on right now would
// be requeued too.
func RecoverOrphans(ctx context.Context, database *db.DB, priority int) (*RecoverOutput, error) {
	frames, err := database.FramesWithProcessingStatus(ctx, model.ProcessingInProgress, 0)
	if err != nil {
		return nil, err
	}
	out := &RecoverOutput{Found: len(frames), Requeued: []int64{}}
	for _, f := range frames {
		outcome, err := database.RequeueOrphan(ctx, f.ID, priority)
		if err != nil {
			return nil, err
		}
		if outcome == model.Enqueued {
			out.Requeued = append(out.Requeued, f.ID)
		} else {
			out.Ineligible++
		}
	}
	return out, nil
}
