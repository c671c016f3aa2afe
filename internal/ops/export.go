package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path  string    // optional, default: <storage_root>/exports/timeline-<timestamp>.jsonl
	Range TimeRange // both bounds required
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of an export file.
type ExportHeader struct {
	RetraceExport bool      `json:"_retrace_export"`
	SchemaVersion int       `json:"schema_version"`
	ExportedAt    int64     `json:"exported_at"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// ExportRecord is one frame with its session context and indexed text.
type ExportRecord struct {
	Frame      model.Frame `json:"frame"`
	BundleID   string      `json:"bundle_id,omitempty"`
	WindowName *string     `json:"window_name,omitempty"`
	BrowserURL *string     `json:"browser_url,omitempty"`
	Title      string      `json:"title,omitempty"`
	Text       string      `json:"text,omitempty"`
}

// Export writes the frames captured in a range to a JSONL file. The file is
// written to a temporary name and renamed into place, so an existing file
// survives a failed export.
func Export(ctx context.Context, database *db.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	start, end, err := input.Range.Parse()
	if err != nil {
		return nil, err
	}
	if start == nil || end == nil {
		return nil, errors.NewInvalidRequest("export needs both start and end")
	}

	now := time.Now()
	exportPath := input.Path
	if exportPath == "" {
		exportPath = filepath.Join(cfg.ExportsDir(), fmt.Sprintf("timeline-%s.jsonl", now.Format("2006-01-02T150405")))
	}
	if err := ValidateExportPath(exportPath, cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	frames, err := database.FramesInRange(ctx, *start, *end, 0)
	if err != nil {
		return nil, err
	}
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	if err := enc.Encode(ExportHeader{
		RetraceExport: true,
		SchemaVersion: version,
		ExportedAt:    now.Unix(),
		Start:         *start,
		End:           *end,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	sessions := make(map[int64]*model.Session)
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := exportRecord(ctx, database, f, sessions)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(record); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted since validation.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Count:      len(frames),
		ExportedAt: now.Unix(),
	}, nil
}

func exportRecord(ctx context.Context, database *db.DB, f model.Frame, sessions map[int64]*model.Session) (ExportRecord, error) {
	record := ExportRecord{Frame: f}
	if f.SessionID != nil {
		s, seen := sessions[*f.SessionID]
		if !seen {
			var err error
			if s, err = database.GetSession(ctx, *f.SessionID); err != nil {
				return record, err
			}
			sessions[*f.SessionID] = s
		}
		if s != nil {
			record.BundleID = s.BundleID
			record.WindowName = s.WindowName
			record.BrowserURL = s.BrowserURL
		}
	}
	doc, err := database.DocumentForFrame(ctx, f.ID)
	if err != nil {
		return record, err
	}
	if doc != nil {
		record.Title = doc.Title
		record.Text = doc.PrimaryText
	}
	return record, nil
}
