package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// StatsOutput summarizes the store and, when a range is given, app usage.
type StatsOutput struct {
	model.Stats
	SchemaVersion int              `json:"schema_version"`
	QueueDepth    int              `json:"queue_depth"`
	Apps          []model.AppUsage `json:"apps,omitempty"`
}

// Stats returns store counts. Sessions tagged hidden are left out of app usage.
func Stats(ctx context.Context, database *db.DB, usage TimeRange) (*StatsOutput, error) {
	s, err := database.Stats(ctx)
	if err != nil {
		return nil, err
	}
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	depth, err := database.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	out := &StatsOutput{Stats: *s, SchemaVersion: version, QueueDepth: depth}

	start, end, err := usage.Parse()
	if err != nil {
		return nil, err
	}
	if start != nil || end != nil {
		if end == nil {
			now := time.Now()
			end = &now
		}
		if start == nil {
			s := end.Add(-24 * time.Hour)
			start = &s
		}
		if out.Apps, err = database.AppUsage(ctx, *start, *end); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Maintenance actions
const (
	MaintainCheckpoint    = "checkpoint"
	MaintainVacuum        = "vacuum"
	MaintainIncremental   = "incremental-vacuum"
	MaintainAnalyze       = "analyze"
	MaintainRebuildIndex  = "rebuild-index"
	MaintainOptimizeIndex = "optimize-index"
	MaintainIntegrity     = "integrity-check"
)

// MaintenanceActions lists every action Maintain accepts.
var MaintenanceActions = []string{
	MaintainCheckpoint, MaintainVacuum, MaintainIncremental, MaintainAnalyze,
	MaintainRebuildIndex, MaintainOptimizeIndex, MaintainIntegrity,
}

// MaintainOutput reports a maintenance run.
type MaintainOutput struct {
	Action     string               `json:"action"`
	Checkpoint *db.CheckpointResult `json:"checkpoint,omitempty"`
	Message    string               `json:"message"`
}

// Maintain runs one maintenance action. None of them run inside a data
// transaction.
func Maintain(ctx context.Context, database *db.DB, action string) (*MaintainOutput, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	out := &MaintainOutput{Action: action, Message: "ok"}

	var err error
	switch action {
	case MaintainCheckpoint:
		out.Checkpoint, err = database.Checkpoint(ctx)
		if err == nil {
			out.Message = fmt.Sprintf("checkpointed %d of %d frames", out.Checkpoint.Checkpointed, out.Checkpoint.LogFrames)
		}
	case MaintainVacuum:
		err = database.Vacuum(ctx)
	case MaintainIncremental:
		err = database.IncrementalVacuum(ctx, 0)
	case MaintainAnalyze:
		err = database.Analyze(ctx)
	case MaintainRebuildIndex:
		err = database.RebuildIndex(ctx)
	case MaintainOptimizeIndex:
		err = database.OptimizeIndex(ctx)
	case MaintainIntegrity:
		err = database.IndexIntegrityCheck(ctx)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown action %q (want one of %s)", action, strings.Join(MaintenanceActions, ", ")))
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
