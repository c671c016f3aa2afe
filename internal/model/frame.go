package model

import "time"

// Frame is one screen capture. VideoID and VideoFrameIndex stay nil until the
// frame is linked to an encoded container.
type Frame struct {
	ID               int64            `json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	SessionID        *int64           `json:"session_id,omitempty"`
	VideoID          *int64           `json:"video_id,omitempty"`
	VideoFrameIndex  *int             `json:"video_frame_index,omitempty"`
	Starred          bool             `json:"starred"`
	EncodingStatus   EncodingStatus   `json:"encoding_status"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
}

// Encoded reports whether the frame has a home in a video container.
func (f *Frame) Encoded() bool {
	return f.VideoID != nil && f.EncodingStatus == EncodingSuccess
}
