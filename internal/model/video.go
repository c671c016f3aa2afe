package model

import (
	"crypto/rand"
	"path"
	"time"

	"github.com/oklog/ulid/v2"
)

// Video is the metadata for one encoded multi-frame chunk. Frame count is
// derived from linked frames and never stored.
type Video struct {
	ID        int64      `json:"id"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Path      string     `json:"path"`
	FileSize  int64      `json:"file_size"`
	FrameRate float64    `json:"frame_rate"`
	State     VideoState `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewVideoPath returns a storage-root-relative path for a new chunk file:
// chunks/YYYYMM/DD/<ulid>. The ULID keeps names unique and sortable by creation time.
func NewVideoPath(t time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	t = t.UTC()
	return path.Join("chunks", t.Format("200601"), t.Format("02"), id.String()), nil
}
