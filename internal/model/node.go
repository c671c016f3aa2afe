package model

import (
	"fmt"
	"math"
)

// Rect is a bounding box normalized to the unit square. Persisted values
// always lie in [0,1] so stored boxes survive resolution changes.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks that the box lies inside the unit square.
func (r Rect) Validate() error {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("box %+v outside unit square", r)
		}
	}
	if r.X+r.Width > 1+1e-9 || r.Y+r.Height > 1+1e-9 {
		return fmt.Errorf("box %+v extends past unit square", r)
	}
	return nil
}

// PixelRect is a bounding box in a frame's pixel space.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Denormalize maps the box into pixel space for a frame of the given size.
func (r Rect) Denormalize(width, height int) PixelRect {
	return PixelRect{
		X:      int(math.Round(r.X * float64(width))),
		Y:      int(math.Round(r.Y * float64(height))),
		Width:  int(math.Round(r.Width * float64(width))),
		Height: int(math.Round(r.Height * float64(height))),
	}
}

// NormalizeRect maps a pixel-space box into the unit square, clamping to the
// frame edges.
func NormalizeRect(p PixelRect, width, height int) Rect {
	if width <= 0 || height <= 0 {
		return Rect{}
	}
	clamp := func(v float64) float64 { return math.Min(1, math.Max(0, v)) }
	x := clamp(float64(p.X) / float64(width))
	y := clamp(float64(p.Y) / float64(height))
	return Rect{
		X:      x,
		Y:      y,
		Width:  math.Min(clamp(float64(p.Width)/float64(width)), 1-x),
		Height: math.Min(clamp(float64(p.Height)/float64(height)), 1-y),
	}
}

// Node is one OCR-detected text run on a frame. Offset and Length address a
// rune range inside the frame's primary search text; the text is never copied.
type Node struct {
	ID      int64 `json:"id"`
	FrameID int64 `json:"frame_id"`
	Order   int   `json:"order"`
	Offset  int   `json:"offset"`
	Length  int   `json:"length"`
	Box     Rect  `json:"box"`
}

// NodeText pairs a node with the slice of content it addresses.
type NodeText struct {
	Node
	Text string `json:"text"`
}

// TextRun is the upstream OCR input for one run: where it sits in the text
// blob and where it sits on screen.
type TextRun struct {
	Offset int
	Length int
	Box    Rect
}

// Document is the searchable text payload for one frame.
type Document struct {
	ID            int64  `json:"id"`
	FrameID       int64  `json:"frame_id"`
	SessionID     *int64 `json:"session_id,omitempty"`
	PrimaryText   string `json:"primary_text"`
	SecondaryText string `json:"secondary_text,omitempty"`
	Title         string `json:"title,omitempty"`
}
