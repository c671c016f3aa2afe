package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/logging"
	"github.com/haseab/retrace-sub006/internal/ops"
)

var day = time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)

// setupTestDB creates a temporary store and config for testing.
func setupTestDB(t *testing.T) (*db.DB, *config.Config) {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorageRoot = tmpDir

	database, err := db.Init(context.Background(), cfg.DatabasePath(), db.OptionsFromConfig(cfg, nil))
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, cfg
}

// run executes the CLI with args and returns what it wrote.
func run(t *testing.T, database *db.DB, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLIApp(database, cfg, logging.Discard())
	app.Writer = &out
	err := app.Run(append([]string{"retrace"}, args...))
	return out.String(), err
}

// runJSON executes the CLI and decodes its JSON output.
func runJSON(t *testing.T, database *db.DB, cfg *config.Config, args ...string) map[string]any {
	t.Helper()
	out, err := run(t, database, cfg, args...)
	if err != nil {
		t.Fatalf("retrace %s: %v", strings.Join(args, " "), err)
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	return v
}

// seedFrame records an indexed frame for app at ts.
func seedFrame(t *testing.T, database *db.DB, app string, ts time.Time, text string) int64 {
	t.Helper()
	ctx := context.Background()
	if _, err := ops.StartSession(ctx, database, ops.StartSessionInput{BundleID: app, At: ts}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	out, err := ops.CaptureFrame(ctx, database, ops.CaptureFrameInput{At: ts})
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if text != "" {
		if _, err := ops.CompleteOCR(ctx, database, ops.CompleteOCRInput{FrameID: out.Frame.ID, PrimaryText: text}); err != nil {
			t.Fatalf("CompleteOCR: %v", err)
		}
	}
	return out.Frame.ID
}

func TestSearchCommand(t *testing.T) {
	database, cfg := setupTestDB(t)
	seedFrame(t, database, "com.apple.Safari", day, "quarterly invoice for acme")
	seedFrame(t, database, "com.apple.Terminal", day.Add(time.Minute), "go test ./...")
	seedFrame(t, database, "com.apple.Notes", day.Add(2*time.Minute), "grocery list")

	out := runJSON(t, database, cfg, "search", "invoice")
	if items := out["items"].([]any); len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	text, err := run(t, database, cfg, "search", "--format", "table", "invoice")
	if err != nil {
		t.Fatalf("search table: %v", err)
	}
	if !strings.Contains(text, "com.apple.Safari") {
		t.Errorf("table output missing app:\n%s", text)
	}

	out = runJSON(t, database, cfg, "count", "invoice")
	if out["count"] != float64(1) {
		t.Errorf("count = %v, want 1", out["count"])
	}
}

func TestSearchCommand_EmptyQuery(t *testing.T) {
	database, cfg := setupTestDB(t)

	_, err := run(t, database, cfg, "search")
	if err == nil {
		t.Fatal("expected error for empty query")
	}
	if !strings.Contains(err.Error(), "INVALID_REQUEST") {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestFrameAndStarCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	id := seedFrame(t, database, "com.apple.Safari", day, "hello world")
	idStr := strconv.FormatInt(id, 10)

	out := runJSON(t, database, cfg, "frame", idStr)
	if frame, ok := out["frame"].(map[string]any); !ok || frame["id"] != float64(id) {
		t.Errorf("frame = %v", out["frame"])
	}

	out = runJSON(t, database, cfg, "star", idStr)
	if out["starred"] != true {
		t.Errorf("starred = %v", out["starred"])
	}

	if _, err := run(t, database, cfg, "frame", "999"); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("missing frame error = %v, want NOT_FOUND", err)
	}
	if _, err := run(t, database, cfg, "frame", "abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestQueueCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	ctx := context.Background()
	if _, err := ops.StartSession(ctx, database, ops.StartSessionInput{BundleID: "com.apple.Safari", At: day}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f1, err := ops.CaptureFrame(ctx, database, ops.CaptureFrameInput{At: day})
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	f2, err := ops.CaptureFrame(ctx, database, ops.CaptureFrameInput{At: day.Add(time.Second)})
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	id1 := strconv.FormatInt(f1.Frame.ID, 10)
	id2 := strconv.FormatInt(f2.Frame.ID, 10)

	out := runJSON(t, database, cfg, "queue", "enqueue", id1)
	if out["outcome"] != "enqueued" {
		t.Fatalf("outcome = %v, want enqueued", out["outcome"])
	}
	out = runJSON(t, database, cfg, "queue", "enqueue", "--priority", "5", id2)
	if out["position"] != float64(1) {
		t.Errorf("high priority position = %v, want 1", out["position"])
	}

	out = runJSON(t, database, cfg, "queue", "status")
	if out["depth"] != float64(2) {
		t.Errorf("depth = %v, want 2", out["depth"])
	}

	out = runJSON(t, database, cfg, "queue", "next")
	job := out["job"].(map[string]any)
	if job["frame_id"] != float64(f2.Frame.ID) {
		t.Errorf("next frame = %v, want %d", job["frame_id"], f2.Frame.ID)
	}

	out = runJSON(t, database, cfg, "queue", "fail", "--error", "vision timeout", id2)
	if out["outcome"] == nil {
		t.Errorf("fail output = %v", out)
	}

	out = runJSON(t, database, cfg, "queue", "position", id1)
	if out["queued"] != true {
		t.Errorf("queued = %v, want true", out["queued"])
	}

	text, err := run(t, database, cfg, "queue", "status", "--format", "table")
	if err != nil {
		t.Fatalf("queue status table: %v", err)
	}
	if !strings.Contains(text, "Depth") {
		t.Errorf("table output missing footer:\n%s", text)
	}
}

func TestSessionsAndTagCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	id := seedFrame(t, database, "com.apple.Safari", day, "hello")
	f, err := database.GetFrame(context.Background(), id)
	if err != nil || f == nil || f.SessionID == nil {
		t.Fatalf("GetFrame = %+v, %v", f, err)
	}
	sid := strconv.FormatInt(*f.SessionID, 10)

	runJSON(t, database, cfg, "tag", sid, "Deep Work")

	start := day.Add(-time.Hour).Format(time.RFC3339)
	end := day.Add(time.Hour).Format(time.RFC3339)
	out := runJSON(t, database, cfg, "sessions", "--start", start, "--end", end)
	items := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("sessions = %d, want 1", len(items))
	}
	if tags, _ := items[0].(map[string]any)["tags"].([]any); len(tags) != 1 {
		t.Errorf("tags = %v, want one tag", tags)
	}

	out = runJSON(t, database, cfg, "tag", "--remove", sid, "Deep Work")
	if out["removed"] != true {
		t.Errorf("removed = %v, want true", out["removed"])
	}
}

func TestStatsAndMaintainCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	seedFrame(t, database, "com.apple.Safari", day, "hello")

	out := runJSON(t, database, cfg, "stats")
	if out["frame_count"] != float64(1) {
		t.Errorf("frame_count = %v, want 1", out["frame_count"])
	}

	text, err := run(t, database, cfg, "stats", "--format", "table")
	if err != nil {
		t.Fatalf("stats table: %v", err)
	}
	if !strings.Contains(text, "Frames") {
		t.Errorf("stats table missing rows:\n%s", text)
	}

	out = runJSON(t, database, cfg, "maintain", "integrity-check")
	if out["action"] != "integrity-check" {
		t.Errorf("action = %v", out["action"])
	}
	if _, err := run(t, database, cfg, "maintain", "defrag"); err == nil {
		t.Error("expected error for unknown action")
	}

	out = runJSON(t, database, cfg, "migrations")
	if v, _ := out["current_version"].(float64); v < 1 {
		t.Errorf("current_version = %v", out["current_version"])
	}
}

func TestOffsetCommand(t *testing.T) {
	database, cfg := setupTestDB(t)

	legacyPath := filepath.Join(t.TempDir(), "legacy.db")
	ldb, err := sql.Open("sqlite", legacyPath)
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE segment (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE frame (id INTEGER PRIMARY KEY)`,
		`INSERT INTO segment (id) VALUES (300)`,
		`INSERT INTO frame (id) VALUES (9000)`,
	} {
		if _, err := ldb.Exec(stmt); err != nil {
			t.Fatalf("seed legacy: %v", err)
		}
	}
	ldb.Close()

	if _, err := run(t, database, cfg, "offset"); err == nil {
		t.Fatal("expected error without a legacy path")
	}

	out := runJSON(t, database, cfg, "offset", "--legacy", legacyPath)
	if out["applied"] != true {
		t.Fatalf("applied = %v, want true", out["applied"])
	}

	id := seedFrame(t, database, "com.apple.Safari", day, "")
	if id <= 9000 {
		t.Errorf("new frame id = %d, want > 9000", id)
	}

	out = runJSON(t, database, cfg, "offset", "--legacy", legacyPath)
	if out["applied"] == true {
		t.Error("second offset run should be skipped")
	}
}

func TestIDsCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	ext := uuid.New().String()

	out := runJSON(t, database, cfg, "ids", "register", "frame", ext, "42")
	if out["id"] != float64(42) {
		t.Errorf("id = %v, want 42", out["id"])
	}

	out = runJSON(t, database, cfg, "ids", "resolve", "frame", ext)
	if out["id"] != float64(42) {
		t.Errorf("resolved id = %v, want 42", out["id"])
	}

	runJSON(t, database, cfg, "ids", "forget", "frame", ext)
	if _, err := run(t, database, cfg, "ids", "resolve", "frame", ext); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("resolve after forget error = %v, want NOT_FOUND", err)
	}

	if _, err := run(t, database, cfg, "ids", "resolve", "widget", ext); err == nil {
		t.Error("expected error for unknown entity")
	}
	if _, err := run(t, database, cfg, "ids", "resolve", "frame", "not-a-uuid"); err == nil {
		t.Error("expected error for malformed uuid")
	}
}

func TestExportAndPurgeCommands(t *testing.T) {
	database, cfg := setupTestDB(t)
	seedFrame(t, database, "com.apple.Safari", day, "hello")
	seedFrame(t, database, "com.apple.Safari", day.Add(time.Minute), "again")

	out := runJSON(t, database, cfg, "export", "--start", "2025-03-07", "--end", "2025-03-07")
	if out["count"] != float64(2) {
		t.Errorf("exported = %v, want 2", out["count"])
	}

	if _, err := run(t, database, cfg, "purge", "--start", "2025-03-07"); err == nil {
		t.Error("expected error without --end")
	}

	out = runJSON(t, database, cfg, "purge", "--start", "2025-03-07", "--end", "2025-03-07")
	if out["purged"] != float64(2) {
		t.Errorf("purged = %v, want 2", out["purged"])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer sentence", 8, "a longe…"},
		{"日本語のテキスト", 4, "日本語…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
