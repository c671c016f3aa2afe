package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/ops"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	db      *db.DB
	cfg     *config.Config
	log     *log.Logger
	version string
}

// HandleIndex handles GET / and reports the service and schema version.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	version, err := h.db.CurrentVersion(r.Context())
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"service":        "retrace",
		"version":        h.version,
		"schema_version": version,
	})
}

// HandleSearch handles GET /api/search?q=...
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := ops.Search(r.Context(), h.db, ops.SearchInput{
		Query:        q.Get("q"),
		Mode:         q.Get("mode"),
		Range:        rangeParam(r),
		IncludedApps: q["app"],
		ExcludedApps: q["exclude_app"],
		Limit:        parseIntParam(r, "limit", ops.DefaultSearchLimit),
		Offset:       parseIntParam(r, "offset", 0),
	})
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleMatchCount handles GET /api/search/count?q=...
func (h *Handlers) HandleMatchCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := ops.MatchCount(r.Context(), h.db, ops.MatchCountInput{
		Query:        q.Get("q"),
		Range:        rangeParam(r),
		IncludedApps: q["app"],
		ExcludedApps: q["exclude_app"],
	})
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleTimeline handles GET /api/timeline?cursor=...&before=true
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	input := ops.TimelineInput{
		Before: parseBoolParam(r, "before"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
	}
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor, err := time.Parse(time.RFC3339, c)
		if err != nil {
			renderError(w, h.log, r, errors.NewInvalidRequest("cursor must be an RFC 3339 timestamp"))
			return
		}
		input.Cursor = cursor
	}

	result, err := ops.Timeline(r.Context(), h.db, input)
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleFrame handles GET /api/frames/{id}.
func (h *Handlers) HandleFrame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	result, err := ops.GetFrame(r.Context(), h.db, id)
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleFrameNodes handles GET /api/frames/{id}/nodes?width=&height=
func (h *Handlers) HandleFrameNodes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	result, err := ops.FrameNodes(r.Context(), h.db, id,
		parseIntParam(r, "width", 0), parseIntParam(r, "height", 0))
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleStarFrame handles POST /api/frames/{id}/star. starred=false clears it.
func (h *Handlers) HandleStarFrame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		renderError(w, h.log, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	starred := r.FormValue("starred") != "false"

	if err := ops.StarFrame(r.Context(), h.db, id, starred); err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"id": id, "starred": starred})
}

// HandleDeleteFrame handles DELETE /api/frames/{id}.
func (h *Handlers) HandleDeleteFrame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	if err := ops.DeleteFrame(r.Context(), h.db, id); err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// HandleSessions handles GET /api/sessions?start=&end=
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListSessions(r.Context(), h.db, ops.ListSessionsInput{Range: rangeParam(r)})
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDeleteSession handles DELETE /api/sessions/{id}.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	if err := ops.DeleteSession(r.Context(), h.db, id); err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// HandleTagSession handles POST /api/sessions/{id}/tags with form field tag.
func (h *Handlers) HandleTagSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		renderError(w, h.log, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	tag, err := ops.TagSession(r.Context(), h.db, id, r.FormValue("tag"))
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, map[string]any{"session_id": id, "tag": tag})
}

// HandleUntagSession handles DELETE /api/sessions/{id}/tags/{tag}.
func (h *Handlers) HandleUntagSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	name := r.PathValue("tag")

	removed, err := ops.UntagSession(r.Context(), h.db, id, name)
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"session_id": id, "tag": name, "removed": removed})
}

// HandleStats handles GET /api/stats. A start/end range adds app usage.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Stats(r.Context(), h.db, rangeParam(r))
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleQueue handles GET /api/queue?limit=
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	result, err := ops.QueueStatus(r.Context(), h.db, parseIntParam(r, "limit", ops.DefaultQueueList))
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandlePurge handles POST /api/purge. Requires confirm=true and a range.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderError(w, h.log, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		renderError(w, h.log, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	result, err := ops.Purge(r.Context(), h.db, ops.PurgeInput{
		Range:          ops.TimeRange{Start: r.FormValue("start"), End: r.FormValue("end")},
		IncludeStarred: r.FormValue("include_starred") == "true",
	})
	if err != nil {
		renderError(w, h.log, r, err)
		return
	}

	h.log.Info("purged frames", "count", result.Purged, "start", r.FormValue("start"), "end", r.FormValue("end"))
	renderJSON(w, http.StatusOK, result)
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	s := r.PathValue(name)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(name + " must be a positive integer")
	}
	return id, nil
}

// rangeParam reads the start and end query parameters.
func rangeParam(r *http.Request) ops.TimeRange {
	q := r.URL.Query()
	return ops.TimeRange{
		Start: strings.TrimSpace(q.Get("start")),
		End:   strings.TrimSpace(q.Get("end")),
	}
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
