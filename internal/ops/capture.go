package ops

import (
	"context"
	"strings"
	"time"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// StartSessionInput contains parameters for the StartSession operation.
type StartSessionInput struct {
	BundleID   string // required
	WindowName string
	BrowserURL string
	DisplayID  int64
	At         time.Time // default: now
}

// StartSession closes the currently open session, if any, and opens a new
// one at the same instant.
func StartSession(ctx context.Context, database *db.DB, input StartSessionInput) (*model.Session, error) {
	bundle := strings.TrimSpace(input.BundleID)
	if bundle == "" {
		return nil, errors.NewInvalidRequest("bundle_id is required")
	}
	at := input.At
	if at.IsZero() {
		at = time.Now()
	}

	s := &model.Session{
		BundleID:   bundle,
		WindowName: optionalString(input.WindowName),
		BrowserURL: optionalString(input.BrowserURL),
		DisplayID:  input.DisplayID,
		StartDate:  at,
	}
	if _, err := database.StartSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CaptureFrameInput contains parameters for the CaptureFrame operation.
type CaptureFrameInput struct {
	At        time.Time // default: now
	SessionID *int64    // default: the open session, if any
	Enqueue   bool      // schedule OCR right away
	Priority  int
}

// CaptureFrameOutput reports the stored frame and its OCR scheduling.
type CaptureFrameOutput struct {
	Frame   *model.Frame `json:"frame"`
	Outcome string       `json:"outcome,omitempty"`
}

// CaptureFrame records a newly captured frame, attributing it to the open
// session unless one is given.
func CaptureFrame(ctx context.Context, database *db.DB, input CaptureFrameInput) (*CaptureFrameOutput, error) {
	at := input.At
	if at.IsZero() {
		at = time.Now()
	}

	sessionID := input.SessionID
	if sessionID == nil {
		active, err := database.ActiveSession(ctx)
		if err != nil {
			return nil, err
		}
		if active != nil {
			sessionID = &active.ID
		}
	}

	f := &model.Frame{CreatedAt: at, SessionID: sessionID}
	if _, err := database.InsertFrame(ctx, f); err != nil {
		return nil, err
	}

	out := &CaptureFrameOutput{Frame: f}
	if input.Enqueue {
		outcome, err := database.Enqueue(ctx, f.ID, input.Priority)
		if err != nil {
			return nil, err
		}
		out.Outcome = outcome.String()
	}
	return out, nil
}

// CompleteOCRInput is a worker's result for one frame.
type CompleteOCRInput struct {
	FrameID       int64
	PrimaryText   string
	SecondaryText string
	Title         string
	Runs          []model.TextRun
}

// CompleteOCROutput reports the indexed document.
type CompleteOCROutput struct {
	FrameID   int64 `json:"frame_id"`
	ContentID int64 `json:"content_id"`
	Nodes     int   `json:"nodes"`
}

// CompleteOCR indexes a frame's text and marks its processing completed.
// A frame with no text at all is marked skipped instead. Either way the
// frame leaves the queue.
func CompleteOCR(ctx context.Context, database *db.DB, input CompleteOCRInput) (*CompleteOCROutput, error) {
	if input.FrameID <= 0 {
		return nil, errors.NewInvalidRequest("frame_id is required")
	}
	out := &CompleteOCROutput{FrameID: input.FrameID}

	if strings.TrimSpace(input.PrimaryText) == "" && strings.TrimSpace(input.SecondaryText) == "" && strings.TrimSpace(input.Title) == "" {
		ok, err := database.SetProcessingStatus(ctx, input.FrameID, model.ProcessingSkipped)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NewNotFound("frame", input.FrameID)
		}
		return out, nil
	}

	contentID, ok, err := database.CompleteFrameText(ctx, input.FrameID, db.DocumentText{
		PrimaryText:   input.PrimaryText,
		SecondaryText: input.SecondaryText,
		Title:         input.Title,
	}, input.Runs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFound("frame", input.FrameID)
	}
	out.ContentID = contentID
	out.Nodes = len(input.Runs)
	return out, nil
}

// AttachFramesInput links captured frames to an encoded video container.
type AttachFramesInput struct {
	VideoID  int64
	FrameIDs []int64 // in container order
	FileSize int64
}

// AttachFramesOutput reports how many frames were linked.
type AttachFramesOutput struct {
	VideoID int64 `json:"video_id"`
	Linked  int   `json:"linked"`
}

// AttachFrames links frames to a recording container in order, ties the
// container to the frames' sessions and finalizes it. Frames already linked
// elsewhere are left alone.
func AttachFrames(ctx context.Context, database *db.DB, input AttachFramesInput) (*AttachFramesOutput, error) {
	v, err := database.GetVideo(ctx, input.VideoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.NewNotFound("video", input.VideoID)
	}
	if v.State != model.VideoRecording {
		return nil, errors.NewInvalidRequest("video is not recording")
	}

	linked, ok, err := database.AttachFramesToVideo(ctx, input.VideoID, input.FrameIDs, input.FileSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewInvalidRequest("video is not recording")
	}
	return &AttachFramesOutput{VideoID: input.VideoID, Linked: linked}, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
