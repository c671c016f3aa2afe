package ops

import (
	"context"
	"time"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// FrameOutput is a frame with its session, document and container.
type FrameOutput struct {
	Frame     *model.Frame    `json:"frame"`
	Session   *model.Session  `json:"session,omitempty"`
	Document  *model.Document `json:"document,omitempty"`
	Video     *model.Video    `json:"video,omitempty"`
	VideoPath string          `json:"video_path,omitempty"`
}

// GetFrame fetches one frame and everything it links to.
func GetFrame(ctx context.Context, database *db.DB, id int64) (*FrameOutput, error) {
	f, err := database.GetFrame(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.NewNotFound("frame", id)
	}
	out := &FrameOutput{Frame: f}

	if f.SessionID != nil {
		if out.Session, err = database.GetSession(ctx, *f.SessionID); err != nil {
			return nil, err
		}
	}
	if out.Document, err = database.DocumentForFrame(ctx, id); err != nil {
		return nil, err
	}
	if f.VideoID != nil {
		if out.Video, err = database.GetVideo(ctx, *f.VideoID); err != nil {
			return nil, err
		}
		if out.Video != nil {
			out.VideoPath = database.VideoFilePath(out.Video)
		}
	}
	return out, nil
}

// FrameNodesOutput lists a frame's OCR runs, optionally in pixel space.
type FrameNodesOutput struct {
	FrameID int64             `json:"frame_id"`
	Nodes   []model.NodeText  `json:"nodes"`
	Pixels  []model.PixelRect `json:"pixels,omitempty"`
}

// FrameNodes returns a frame's OCR runs with their text. When width and
// height are positive the boxes are also given in that pixel space.
func FrameNodes(ctx context.Context, database *db.DB, frameID int64, width, height int) (*FrameNodesOutput, error) {
	f, err := database.GetFrame(ctx, frameID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.NewNotFound("frame", frameID)
	}
	nodes, err := database.NodesWithText(ctx, frameID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []model.NodeText{}
	}
	out := &FrameNodesOutput{FrameID: frameID, Nodes: nodes}
	if width > 0 && height > 0 {
		out.Pixels = make([]model.PixelRect, len(nodes))
		for i, n := range nodes {
			out.Pixels[i] = n.Box.Denormalize(width, height)
		}
	}
	return out, nil
}

// TimelineInput pages through frames around a cursor.
type TimelineInput struct {
	Cursor time.Time // default: now
	Before bool      // older than the cursor instead of newer
	Limit  int       // default: 50, max: 500
}

// TimelineOutput is one page of frames.
type TimelineOutput struct {
	Frames []model.Frame `json:"frames"`
	Limit  int           `json:"limit"`
}

// Timeline returns frames strictly before or after a cursor.
func Timeline(ctx context.Context, database *db.DB, input TimelineInput) (*TimelineOutput, error) {
	cursor := input.Cursor
	if cursor.IsZero() {
		cursor = time.Now()
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)

	var (
		frames []model.Frame
		err    error
	)
	if input.Before {
		frames, err = database.FramesBefore(ctx, cursor, limit)
	} else {
		frames, err = database.FramesAfter(ctx, cursor, limit)
	}
	if err != nil {
		return nil, err
	}
	if frames == nil {
		frames = []model.Frame{}
	}
	return &TimelineOutput{Frames: frames, Limit: limit}, nil
}

// StarFrame sets or clears a frame's star. Starred frames survive purges.
func StarFrame(ctx context.Context, database *db.DB, id int64, starred bool) error {
	ok, err := database.SetFrameStarred(ctx, id, starred)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFound("frame", id)
	}
	return nil
}

// DeleteFrame removes a frame with its nodes, document and queue entry.
func DeleteFrame(ctx context.Context, database *db.DB, id int64) error {
	ok, err := database.DeleteFrame(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFound("frame", id)
	}
	return nil
}
