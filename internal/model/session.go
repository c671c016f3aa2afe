package model

import "time"

// Session is a contiguous interval of application focus.
// Stored in the segment table; EndDate is nil while the session is open.
type Session struct {
	ID         int64      `json:"id"`
	BundleID   string     `json:"bundle_id"`
	WindowName *string    `json:"window_name,omitempty"`
	BrowserURL *string    `json:"browser_url,omitempty"`
	DisplayID  int64      `json:"display_id"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s.EndDate == nil
}

// Duration returns the focus duration; open sessions measure up to now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndDate != nil {
		end = *s.EndDate
	}
	if end.Before(s.StartDate) {
		return 0
	}
	return end.Sub(s.StartDate)
}

// AppUsage aggregates focus time for one application.
type AppUsage struct {
	BundleID     string        `json:"bundle_id"`
	SessionCount int           `json:"session_count"`
	Duration     time.Duration `json:"duration"`
}
