package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// queueOrder is the dequeue order: highest priority, then oldest, then
// insertion order for jobs enqueued in the same millisecond.
const queueOrder = `priority DESC, enqueued_at ASC, id ASC`

// Enqueue adds an OCR job for a frame. The insert is conditional on the frame
// being pending and not already queued, so a concurrent status change cannot
// slip between check and insert. Ineligible frames yield EnqueueNotEligible.
func (d *DB) Enqueue(ctx context.Context, frameID int64, priority int) (model.EnqueueOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return enqueue(ctx, d.conn, frameID, priority, 0, nil)
}

func enqueue(ctx context.Context, q querier, frameID int64, priority, retryCount int, lastError *string) (model.EnqueueOutcome, error) {
	ok, err := execAffected(ctx, q, `
		INSERT INTO processing_queue (frame_id, enqueued_at, priority, retry_count, last_error)
		SELECT f.id, ?, ?, ?, ? FROM frame f
		WHERE f.id = ? AND f.processing_status = ?
		  AND NOT EXISTS (SELECT 1 FROM processing_queue q WHERE q.frame_id = f.id)`,
		time.Now().UnixMilli(), priority, retryCount, toNullString(lastError),
		frameID, model.ProcessingPending.String())
	if err != nil {
		return model.EnqueueNotEligible, err
	}
	if !ok {
		return model.EnqueueNotEligible, nil
	}
	return model.Enqueued, nil
}

// Dequeue atomically takes the next job whose frame is still pending,
// removes it and marks the frame processing. Returns nil when no job is
// ready. Entries whose frame left the pending state are discarded.
func (d *DB) Dequeue(ctx context.Context) (*model.QueueJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var job *model.QueueJob
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, `
			DELETE FROM processing_queue
			WHERE frame_id IN (SELECT id FROM frame WHERE processing_status != ?)`,
			model.ProcessingPending.String()); err != nil {
			return err
		}

		const next = `SELECT id, frame_id, retry_count FROM processing_queue ORDER BY ` + queueOrder + ` LIMIT 1`
		var j model.QueueJob
		err := tx.QueryRowContext(ctx, next).Scan(&j.QueueID, &j.FrameID, &j.RetryCount)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return errors.NewQueryFailed(next, err)
		}

		if _, err := exec(ctx, tx, `DELETE FROM processing_queue WHERE id = ?`, j.QueueID); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, `UPDATE frame SET processing_status = ? WHERE id = ?`,
			model.ProcessingInProgress.String(), j.FrameID); err != nil {
			return err
		}
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Retry reschedules a failed job at the back of the queue with an
// incremented retry count and the failure recorded. Once the count would
// exceed the retry budget the frame is marked failed instead.
func (d *DB) Retry(ctx context.Context, frameID int64, retryCount int, errMsg string) (model.RetryOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := retryCount + 1
	outcome := model.Requeued
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := exec(ctx, tx, `DELETE FROM processing_queue WHERE frame_id = ?`, frameID); err != nil {
			return err
		}

		if next > d.opts.MaxRetries {
			outcome = model.RetryExhausted
			ok, err := execAffected(ctx, tx, `UPDATE frame SET processing_status = ? WHERE id = ?`,
				model.ProcessingFailed.String(), frameID)
			if err == nil && !ok {
				err = errors.NewQueryFailed("UPDATE frame", errFrameMissing(frameID))
			}
			return err
		}

		ok, err := execAffected(ctx, tx, `UPDATE frame SET processing_status = ? WHERE id = ?`,
			model.ProcessingPending.String(), frameID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewQueryFailed("UPDATE frame", errFrameMissing(frameID))
		}
		_, err = enqueue(ctx, tx, frameID, model.PriorityLow, next, &errMsg)
		return err
	})
	if err != nil {
		return outcome, err
	}

	if outcome == model.RetryExhausted {
		d.log.Warn("ocr retries exhausted", "frame", frameID, "attempts", next, "err", errMsg)
	} else {
		d.log.Debug("ocr job requeued", "frame", frameID, "retry", next, "err", errMsg)
	}
	return outcome, nil
}

// QueuePosition returns the frame's 1-based rank in dequeue order, counting
// the jobs strictly ahead of it. ok is false when the frame is not queued.
func (d *DB) QueuePosition(ctx context.Context, frameID int64) (pos int, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const self = `SELECT id, priority, enqueued_at FROM processing_queue WHERE frame_id = ?`
	var id, enqueuedAt int64
	var priority int
	err = d.conn.QueryRowContext(ctx, self, frameID).Scan(&id, &priority, &enqueuedAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewQueryFailed(self, err)
	}

	const ahead = `
		SELECT COUNT(*) FROM processing_queue
		WHERE priority > ?
		   OR (priority = ? AND (enqueued_at < ? OR (enqueued_at = ? AND id < ?)))`
	var n int
	if err := d.conn.QueryRowContext(ctx, ahead, priority, priority, enqueuedAt, enqueuedAt, id).Scan(&n); err != nil {
		return 0, false, errors.NewQueryFailed(ahead, err)
	}
	return n + 1, true, nil
}

// QueueDepth returns the number of queued jobs.
func (d *DB) QueueDepth(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const query = `SELECT COUNT(*) FROM processing_queue`
	var n int
	if err := d.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, errors.NewQueryFailed(query, err)
	}
	return n, nil
}

// QueueEntries lists up to limit queued jobs in dequeue order.
func (d *DB) QueueEntries(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT id, frame_id, enqueued_at, priority, retry_count, last_error
		FROM processing_queue ORDER BY ` + queueOrder + limitClause(limit)
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		var (
			e         model.QueueEntry
			ms        int64
			lastError sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.FrameID, &ms, &e.Priority, &e.RetryCount, &lastError); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		e.EnqueuedAt = time.UnixMilli(ms).UTC()
		e.LastError = fromNullString(lastError)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

// RequeueOrphan returns a frame left in the processing state by a crash to
// pending and enqueues it in one transaction. Frames in any other state are
// not eligible.
func (d *DB) RequeueOrphan(ctx context.Context, frameID int64, priority int) (model.EnqueueOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outcome := model.EnqueueNotEligible
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := execAffected(ctx, tx,
			`UPDATE frame SET processing_status = ? WHERE id = ? AND processing_status = ?`,
			model.ProcessingPending.String(), frameID, model.ProcessingInProgress.String())
		if err != nil || !ok {
			return err
		}
		outcome, err = enqueue(ctx, tx, frameID, priority, 0, nil)
		return err
	})
	if err != nil {
		return model.EnqueueNotEligible, err
	}
	return outcome, nil
}
