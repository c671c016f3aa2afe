package ops

import (
	"context"
	"time"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// ListSessionsInput selects sessions overlapping a range.
type ListSessionsInput struct {
	Range TimeRange // default: the last 24 hours
}

// SessionItem is a session with its tags.
type SessionItem struct {
	model.Session
	Tags []string `json:"tags,omitempty"`
}

// ListSessionsOutput contains the sessions, oldest first.
type ListSessionsOutput struct {
	Items []SessionItem `json:"items"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
}

// ListSessions returns sessions overlapping the range with their tags.
func ListSessions(ctx context.Context, database *db.DB, input ListSessionsInput) (*ListSessionsOutput, error) {
	start, end, err := input.Range.Parse()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if end == nil {
		end = &now
	}
	if start == nil {
		s := end.Add(-24 * time.Hour)
		start = &s
	}

	sessions, err := database.SessionsInRange(ctx, *start, *end)
	if err != nil {
		return nil, err
	}
	items := make([]SessionItem, len(sessions))
	for i, s := range sessions {
		tags, err := database.TagsForSession(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		items[i] = SessionItem{Session: s}
		for _, t := range tags {
			items[i].Tags = append(items[i].Tags, t.Name)
		}
	}
	return &ListSessionsOutput{Items: items, Start: *start, End: *end}, nil
}

// TagSession attaches a tag by name, creating the tag if needed.
func TagSession(ctx context.Context, database *db.DB, sessionID int64, name string) (*model.Tag, error) {
	s, err := database.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.NewNotFound("session", sessionID)
	}
	tag, err := database.CreateTag(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := database.TagSession(ctx, sessionID, tag.ID); err != nil {
		return nil, err
	}
	return tag, nil
}

// UntagSession detaches a tag by name. Unknown tags are a no-op.
func UntagSession(ctx context.Context, database *db.DB, sessionID int64, name string) (bool, error) {
	tag, err := database.GetTagByName(ctx, name)
	if err != nil || tag == nil {
		return false, err
	}
	return database.UntagSession(ctx, sessionID, tag.ID)
}

// DeleteSession removes a session; its frames follow the configured policy.
func DeleteSession(ctx context.Context, database *db.DB, id int64) error {
	ok, err := database.DeleteSession(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFound("session", id)
	}
	return nil
}
