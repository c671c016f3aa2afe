package idmap

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/haseab/retrace-sub006/internal/logging"
	"github.com/haseab/retrace-sub006/internal/model"
)

// MaxIDSource reports the highest identifier per entity in another store.
// *legacy.Reader implements it.
type MaxIDSource interface {
	MaxID(ctx context.Context, entity model.EntityType) (int64, error)
}

// Sequencer seeds autoincrement sequences. *db.DB implements it.
type Sequencer interface {
	SequenceSeeded(ctx context.Context) (bool, error)
	SeedSequences(ctx context.Context, floors map[model.EntityType]int64) (bool, error)
}

// OffsetReport describes one run of the offset step.
type OffsetReport struct {
	Applied bool                       `json:"applied"`
	Skipped string                     `json:"skipped,omitempty"`
	Floors  map[model.EntityType]int64 `json:"floors,omitempty"`
}

// ApplyAutoIncrementOffset seeds the store's sequences past the legacy
// store's highest ids so native ids never collide with imported ones. It is
// a no-op once any sequence entry exists.
func ApplyAutoIncrementOffset(ctx context.Context, store Sequencer, src MaxIDSource, logger *log.Logger) (OffsetReport, error) {
	logger = logging.OrDiscard(logger)

	seeded, err := store.SequenceSeeded(ctx)
	if err != nil {
		return OffsetReport{}, err
	}
	if seeded {
		logger.Debug("autoincrement offset skipped", "reason", "sequences present")
		return OffsetReport{Skipped: "sequences present"}, nil
	}

	floors := make(map[model.EntityType]int64, len(model.EntityTypes))
	for _, entity := range model.EntityTypes {
		id, err := src.MaxID(ctx, entity)
		if err != nil {
			return OffsetReport{}, err
		}
		floors[entity] = id
	}

	applied, err := store.SeedSequences(ctx, floors)
	if err != nil {
		return OffsetReport{}, err
	}
	report := OffsetReport{Applied: applied, Floors: floors}
	if !applied {
		report.Skipped = "nothing to seed"
	}
	logger.Info("autoincrement offset",
		"applied", applied,
		"segment", floors[model.EntitySegment],
		"frame", floors[model.EntityFrame],
		"video", floors[model.EntityVideo])
	return report, nil
}
