package ops

import (
	"context"
	"fmt"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	Range          TimeRange // both bounds required
	IncludeStarred bool
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int64  `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes frames captured in a range, with their nodes,
// documents and queue entries. Starred frames are kept unless asked.
func Purge(ctx context.Context, database *db.DB, input PurgeInput) (*PurgeOutput, error) {
	start, end, err := input.Range.Parse()
	if err != nil {
		return nil, err
	}
	if start == nil || end == nil {
		return nil, errors.NewInvalidRequest("purge needs both start and end")
	}

	count, err := database.DeleteFramesInRange(ctx, *start, *end, input.IncludeStarred)
	if err != nil {
		return nil, err
	}
	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.IncludeStarred),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int64, includeStarred bool) string {
	if count == 0 {
		return "No frames to purge"
	}

	frameWord := "frame"
	if count > 1 {
		frameWord = "frames"
	}

	msg := fmt.Sprintf("Permanently deleted %d %s", count, frameWord)
	if !includeStarred {
		msg += " (starred frames kept)"
	}
	return msg
}
