package db

import (
	"context"
	"database/sql"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

// DocumentText is the OCR payload for one frame.
type DocumentText struct {
	PrimaryText   string
	SecondaryText string
	Title         string
}

// IndexFrameText stores a frame's text, its session link and its OCR runs in
// one transaction and returns the content id. Re-indexing a frame replaces
// its previous text and nodes.
func (d *DB) IndexFrameText(ctx context.Context, frameID int64, text DocumentText, runs []model.TextRun) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var contentID int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		id, found, err := indexFrameText(ctx, tx, frameID, text, runs)
		if err != nil {
			return err
		}
		if !found {
			return errors.NewQueryFailed("SELECT frame", errFrameMissing(frameID))
		}
		contentID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return contentID, nil
}

// CompleteFrameText is the end of a frame's OCR: it indexes the text, marks
// the frame completed and drops any queue entry in one transaction. ok is
// false when the frame does not exist.
func (d *DB) CompleteFrameText(ctx context.Context, frameID int64, text DocumentText, runs []model.TextRun) (contentID int64, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		id, found, err := indexFrameText(ctx, tx, frameID, text, runs)
		if err != nil || !found {
			return err
		}
		if _, err := setProcessingStatus(ctx, tx, frameID, model.ProcessingCompleted); err != nil {
			return err
		}
		contentID, ok = id, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return contentID, ok, nil
}

func indexFrameText(ctx context.Context, tx *sql.Tx, frameID int64, text DocumentText, runs []model.TextRun) (int64, bool, error) {
	var sessionID sql.NullInt64
	const lookup = `SELECT segment_id FROM frame WHERE id = ?`
	err := tx.QueryRowContext(ctx, lookup, frameID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewQueryFailed(lookup, err)
	}

	// The doc_segment delete trigger takes the old content with it.
	if _, err := exec(ctx, tx, `DELETE FROM doc_segment WHERE frame_id = ?`, frameID); err != nil {
		return 0, false, err
	}
	if _, err := exec(ctx, tx, `DELETE FROM node WHERE frame_id = ?`, frameID); err != nil {
		return 0, false, err
	}

	contentID, err := insertID(ctx, tx,
		`INSERT INTO doc_content (primary_text, secondary_text, title) VALUES (?, ?, ?)`,
		text.PrimaryText, text.SecondaryText, text.Title)
	if err != nil {
		return 0, false, err
	}
	if _, err := exec(ctx, tx,
		`INSERT INTO doc_segment (doc_id, segment_id, frame_id) VALUES (?, ?, ?)`,
		contentID, sessionID, frameID); err != nil {
		return 0, false, err
	}
	if err := insertNodes(ctx, tx, frameID, text.PrimaryText, 0, runs); err != nil {
		return 0, false, err
	}
	return contentID, true, nil
}

const documentQuery = `
	SELECT c.id, ds.frame_id, ds.segment_id, c.primary_text, c.secondary_text, c.title
	FROM doc_content c
	JOIN doc_segment ds ON ds.doc_id = c.id`

// GetDocument returns the content row, or nil when it does not exist.
func (d *DB) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.getDocument(ctx, documentQuery+` WHERE c.id = ?`, id)
}

// DocumentForFrame returns the frame's indexed text, or nil when the frame
// has not been indexed.
func (d *DB) DocumentForFrame(ctx context.Context, frameID int64) (*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.getDocument(ctx, documentQuery+` WHERE ds.frame_id = ?`, frameID)
}

// DeleteDocument removes a content row, which drops the frame from search
// results. The frame and its nodes stay.
func (d *DB) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return execAffected(ctx, d.conn, `DELETE FROM doc_content WHERE id = ?`, id)
}

func (d *DB) getDocument(ctx context.Context, query string, arg int64) (*model.Document, error) {
	var (
		doc       model.Document
		sessionID sql.NullInt64
	)
	err := d.conn.QueryRowContext(ctx, query, arg).Scan(
		&doc.ID, &doc.FrameID, &sessionID, &doc.PrimaryText, &doc.SecondaryText, &doc.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	doc.SessionID = fromNullInt64(sessionID)
	return &doc, nil
}
