package db

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/model"
)

const nodeColumns = `id, frame_id, node_order, text_offset, text_length, left_x, top_y, width, height`

func errFrameMissing(frameID int64) error {
	return fmt.Errorf("frame %d does not exist", frameID)
}

// InsertNodes appends OCR runs to a frame that already has indexed text.
// Orders continue from the frame's last node, so they stay contiguous.
func (d *DB) InsertNodes(ctx context.Context, frameID int64, runs []model.TextRun) error {
	if len(runs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.withTx(ctx, func(tx *sql.Tx) error {
		const lookup = `
			SELECT c.primary_text FROM doc_content c
			JOIN doc_segment ds ON ds.doc_id = c.id
			WHERE ds.frame_id = ?`
		var text string
		err := tx.QueryRowContext(ctx, lookup, frameID).Scan(&text)
		if err == sql.ErrNoRows {
			return errors.NewQueryFailed(lookup, fmt.Errorf("frame %d has no indexed text", frameID))
		}
		if err != nil {
			return errors.NewQueryFailed(lookup, err)
		}

		const next = `SELECT COALESCE(MAX(node_order) + 1, 0) FROM node WHERE frame_id = ?`
		var start int
		if err := tx.QueryRowContext(ctx, next, frameID).Scan(&start); err != nil {
			return errors.NewQueryFailed(next, err)
		}
		return insertNodes(ctx, tx, frameID, text, start, runs)
	})
}

// insertNodes validates runs against text (offsets are rune positions) and
// inserts them with orders starting at startOrder.
func insertNodes(ctx context.Context, tx *sql.Tx, frameID int64, text string, startOrder int, runs []model.TextRun) error {
	if len(runs) == 0 {
		return nil
	}
	textLen := utf8.RuneCountInString(text)

	const query = `
		INSERT INTO node (frame_id, node_order, text_offset, text_length, left_x, top_y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.NewQueryFailed(query, err)
	}
	defer stmt.Close()

	for i, r := range runs {
		if r.Offset < 0 || r.Length < 0 || r.Offset+r.Length > textLen {
			return errors.NewQueryFailed(query, fmt.Errorf(
				"node %d: range [%d,%d) outside text of %d characters", i, r.Offset, r.Offset+r.Length, textLen))
		}
		if err := r.Box.Validate(); err != nil {
			return errors.NewQueryFailed(query, fmt.Errorf("node %d: %w", i, err))
		}
		if _, err := stmt.ExecContext(ctx, frameID, startOrder+i, r.Offset, r.Length,
			r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height); err != nil {
			return errors.NewQueryFailed(query, err)
		}
	}
	return nil
}

// NodesForFrame returns a frame's nodes in reading order.
func (d *DB) NodesForFrame(ctx context.Context, frameID int64) ([]model.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + nodeColumns + ` FROM node WHERE frame_id = ? ORDER BY node_order`
	rows, err := d.conn.QueryContext(ctx, query, frameID)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

// NodesWithText returns a frame's nodes with the text each one addresses.
func (d *DB) NodesWithText(ctx context.Context, frameID int64) ([]model.NodeText, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := `SELECT ` + prefixed("n", nodeColumns) + `, c.primary_text
		FROM node n
		JOIN doc_segment ds ON ds.frame_id = n.frame_id
		JOIN doc_content c ON c.id = ds.doc_id
		WHERE n.frame_id = ?
		ORDER BY n.node_order`
	rows, err := d.conn.QueryContext(ctx, query, frameID)
	if err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	defer rows.Close()

	var (
		out   []model.NodeText
		runes []rune
	)
	for rows.Next() {
		var (
			n    model.Node
			text string
		)
		if err := rows.Scan(&n.ID, &n.FrameID, &n.Order, &n.Offset, &n.Length,
			&n.Box.X, &n.Box.Y, &n.Box.Width, &n.Box.Height, &text); err != nil {
			return nil, errors.NewQueryFailed(query, err)
		}
		if runes == nil {
			runes = []rune(text)
		}
		out = append(out, model.NodeText{Node: n, Text: sliceRunes(runes, n.Offset, n.Length)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailed(query, err)
	}
	return out, nil
}

func scanNode(row rowScanner) (model.Node, error) {
	var n model.Node
	err := row.Scan(&n.ID, &n.FrameID, &n.Order, &n.Offset, &n.Length,
		&n.Box.X, &n.Box.Y, &n.Box.Width, &n.Box.Height)
	return n, err
}

// sliceRunes returns runes[offset:offset+length], clamped to the slice.
func sliceRunes(runes []rune, offset, length int) string {
	if offset < 0 || offset >= len(runes) || length <= 0 {
		return ""
	}
	end := min(offset+length, len(runes))
	return string(runes[offset:end])
}
