package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/logging"
	"github.com/haseab/retrace-sub006/internal/ops"
)

var day = time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)

func setupTest(t *testing.T) (*Handlers, http.Handler) {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorageRoot = tmpDir

	database, err := db.Init(context.Background(), filepath.Join(tmpDir, "retrace.db"), db.OptionsFromConfig(cfg, nil))
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	h := &Handlers{db: database, cfg: cfg, log: logging.Discard(), version: "test"}
	return h, h.routes()
}

// seedFrame records an indexed frame for app at ts and returns its id.
func seedFrame(t *testing.T, h *Handlers, app string, ts time.Time, text string) int64 {
	t.Helper()
	ctx := context.Background()
	if _, err := ops.StartSession(ctx, h.db, ops.StartSessionInput{BundleID: app, At: ts}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	out, err := ops.CaptureFrame(ctx, h.db, ops.CaptureFrameInput{At: ts})
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if text != "" {
		if _, err := ops.CompleteOCR(ctx, h.db, ops.CompleteOCRInput{FrameID: out.Frame.ID, PrimaryText: text}); err != nil {
			t.Fatalf("CompleteOCR: %v", err)
		}
	}
	return out.Frame.ID
}

func do(t *testing.T, handler http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decodeBody(t, rec)["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %s", rec.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestIndex(t *testing.T) {
	_, handler := setupTest(t)

	rec := do(t, handler, "GET", "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "retrace" {
		t.Errorf("service = %v", body["service"])
	}
	if v, _ := body["schema_version"].(float64); v < 1 {
		t.Errorf("schema_version = %v, want migrated store", body["schema_version"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, handler := setupTest(t)

	rec := do(t, handler, "GET", "/api/stats", nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Content-Type":           "application/json",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestHandleSearch(t *testing.T) {
	h, handler := setupTest(t)
	seedFrame(t, h, "com.apple.Safari", day, "quarterly invoice for acme")
	seedFrame(t, h, "com.apple.Terminal", day.Add(time.Minute), "go test ./...")
	seedFrame(t, h, "com.apple.Notes", day.Add(2*time.Minute), "grocery list")

	rec := do(t, handler, "GET", "/api/search?q=invoice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	rec = do(t, handler, "GET", "/api/search?q=invoice&exclude_app=com.apple.Safari", nil)
	if items := decodeBody(t, rec)["items"].([]any); len(items) != 0 {
		t.Errorf("items = %d, want 0 with Safari excluded", len(items))
	}

	rec = do(t, handler, "GET", "/api/search/count?q=invoice", nil)
	if count := decodeBody(t, rec)["count"]; count != float64(1) {
		t.Errorf("count = %v, want 1", count)
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	_, handler := setupTest(t)

	rec := do(t, handler, "GET", "/api/search?q=", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", code)
	}
}

func TestHandleSearch_BadMode(t *testing.T) {
	_, handler := setupTest(t)

	rec := do(t, handler, "GET", "/api/search?q=hello&mode=fuzzy", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTimeline(t *testing.T) {
	h, handler := setupTest(t)
	for i := range 3 {
		seedFrame(t, h, "com.apple.Safari", day.Add(time.Duration(i)*time.Minute), fmt.Sprintf("frame %d", i))
	}

	cursor := url.QueryEscape(day.Add(30 * time.Second).Format(time.RFC3339))
	rec := do(t, handler, "GET", "/api/timeline?cursor="+cursor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if frames := decodeBody(t, rec)["frames"].([]any); len(frames) != 2 {
		t.Errorf("frames = %d, want 2 after the cursor", len(frames))
	}

	rec = do(t, handler, "GET", "/api/timeline?cursor=soon", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad cursor", rec.Code)
	}
}

func TestHandleFrame(t *testing.T) {
	h, handler := setupTest(t)
	id := seedFrame(t, h, "com.apple.Safari", day, "hello world")

	rec := do(t, handler, "GET", fmt.Sprintf("/api/frames/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["session"]; !ok {
		t.Error("expected session in frame response")
	}
	if _, ok := body["document"]; !ok {
		t.Error("expected document in frame response")
	}

	rec = do(t, handler, "GET", fmt.Sprintf("/api/frames/%d/nodes?width=1920&height=1080", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nodes status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleFrame_NotFoundAndBadID(t *testing.T) {
	_, handler := setupTest(t)

	rec := do(t, handler, "GET", "/api/frames/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}

	rec = do(t, handler, "GET", "/api/frames/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStarAndDeleteFrame(t *testing.T) {
	h, handler := setupTest(t)
	id := seedFrame(t, h, "com.apple.Safari", day, "hello")

	rec := do(t, handler, "POST", fmt.Sprintf("/api/frames/%d/star", id), url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("star status = %d, body = %s", rec.Code, rec.Body.String())
	}
	f, err := h.db.GetFrame(context.Background(), id)
	if err != nil || f == nil || !f.Starred {
		t.Fatalf("frame after star = %+v, %v", f, err)
	}

	rec = do(t, handler, "DELETE", fmt.Sprintf("/api/frames/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, handler, "DELETE", fmt.Sprintf("/api/frames/%d", id), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHandleSessionsAndTags(t *testing.T) {
	h, handler := setupTest(t)
	id := seedFrame(t, h, "com.apple.Safari", day, "hello")
	f, err := h.db.GetFrame(context.Background(), id)
	if err != nil || f == nil || f.SessionID == nil {
		t.Fatalf("GetFrame = %+v, %v", f, err)
	}
	sid := *f.SessionID

	rec := do(t, handler, "POST", fmt.Sprintf("/api/sessions/%d/tags", sid), url.Values{"tag": {"deep-work"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("tag status = %d, body = %s", rec.Code, rec.Body.String())
	}

	start := url.QueryEscape(day.Add(-time.Hour).Format(time.RFC3339))
	end := url.QueryEscape(day.Add(time.Hour).Format(time.RFC3339))
	rec = do(t, handler, "GET", "/api/sessions?start="+start+"&end="+end, nil)
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("sessions = %d, want 1", len(items))
	}
	if tags, _ := items[0].(map[string]any)["tags"].([]any); len(tags) != 1 || tags[0] != "deep-work" {
		t.Errorf("tags = %v, want [deep-work]", tags)
	}

	rec = do(t, handler, "DELETE", fmt.Sprintf("/api/sessions/%d/tags/deep-work", sid), nil)
	if removed := decodeBody(t, rec)["removed"]; removed != true {
		t.Errorf("removed = %v, want true", removed)
	}

	rec = do(t, handler, "POST", fmt.Sprintf("/api/sessions/%d/tags", sid), url.Values{"tag": {"  "}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty tag status = %d, want 400", rec.Code)
	}

	rec = do(t, handler, "DELETE", fmt.Sprintf("/api/sessions/%d", sid), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete session status = %d", rec.Code)
	}
}

func TestHandleStatsAndQueue(t *testing.T) {
	h, handler := setupTest(t)
	seedFrame(t, h, "com.apple.Safari", day, "hello")
	if _, err := ops.CaptureFrame(context.Background(), h.db, ops.CaptureFrameInput{At: day.Add(time.Minute), Enqueue: true}); err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}

	rec := do(t, handler, "GET", "/api/stats", nil)
	body := decodeBody(t, rec)
	if body["frame_count"] != float64(2) {
		t.Errorf("frame_count = %v, want 2", body["frame_count"])
	}

	rec = do(t, handler, "GET", "/api/queue", nil)
	body = decodeBody(t, rec)
	if body["depth"] != float64(1) {
		t.Errorf("depth = %v, want 1", body["depth"])
	}
}

func TestHandlePurge(t *testing.T) {
	h, handler := setupTest(t)
	seedFrame(t, h, "com.apple.Safari", day, "hello")
	seedFrame(t, h, "com.apple.Safari", day.Add(time.Minute), "again")

	rec := do(t, handler, "POST", "/api/purge", url.Values{"start": {"2025-03-07"}, "end": {"2025-03-07"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing confirm status = %d, want 400", rec.Code)
	}

	rec = do(t, handler, "POST", "/api/purge", url.Values{"confirm": {"true"}, "start": {"2025-03-07"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("open range status = %d, want 400", rec.Code)
	}

	rec = do(t, handler, "POST", "/api/purge", url.Values{"confirm": {"true"}, "start": {"2025-03-07"}, "end": {"2025-03-07"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if purged := decodeBody(t, rec)["purged"]; purged != float64(2) {
		t.Errorf("purged = %v, want 2", purged)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-3", -3},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/search?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"before=true", true},
		{"before=1", true},
		{"before=false", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/timeline?"+tt.query, nil)
		if got := parseBoolParam(req, "before"); got != tt.want {
			t.Errorf("parseBoolParam(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
