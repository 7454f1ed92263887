package store

import (
	"context"
	"database/sql"
	"fmt"

	"pingin/api/internal/anchor"
)

type liveAnchor struct {
	table string
	id    int64
	start int
	end   int
}

// shiftUpdate is the new position of one live anchor after an accepted edit.
// A consuming anchor whose range collapsed is retired instead of moved.
type shiftUpdate struct {
	table   string
	id      int64
	start   int
	end     int
	retired bool
}

// planShift maps every live anchor across edit and returns the rows that
// need writing. Insertions sharing the accepted insertion's offset keep
// their creation order: older ones stay before the new text, newer ones move
// past it.
func planShift(edit anchor.Edit, live []liveAnchor, acceptedInsertion int64) []shiftUpdate {
	var out []shiftUpdate
	for _, a := range live {
		u := shiftUpdate{table: a.table, id: a.id}
		if a.table == "insertions" {
			after := acceptedInsertion == 0 || a.id > acceptedInsertion
			u.start = edit.MapPoint(a.start, after)
			u.end = u.start
		} else {
			r, ok := edit.MapRange(anchor.Range{Start: a.start, End: a.end})
			u.start, u.end, u.retired = r.Start, r.End, !ok
		}
		if u.start == a.start && u.end == a.end && !u.retired {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (u shiftUpdate) apply(ctx context.Context, tx *sql.Tx) error {
	var err error
	switch {
	case u.table == "insertions":
		_, err = tx.ExecContext(ctx, `UPDATE insertions SET position = $2 WHERE id = $1`, u.id, u.start)
	case u.table == "comments" && u.retired:
		_, err = tx.ExecContext(ctx, `UPDATE comments SET resolved = TRUE, resolved_at = NOW() WHERE id = $1`, u.id)
	case u.table == "comments":
		_, err = tx.ExecContext(ctx, `UPDATE comments SET anchor_start = $2, anchor_end = $3 WHERE id = $1`, u.id, u.start, u.end)
	case u.table == "strikethroughs" && u.retired:
		_, err = tx.ExecContext(ctx, `UPDATE strikethroughs SET status = 'STALE' WHERE id = $1`, u.id)
	case u.table == "strikethroughs":
		_, err = tx.ExecContext(ctx, `UPDATE strikethroughs SET anchor_start = $2, anchor_end = $3 WHERE id = $1`, u.id, u.start, u.end)
	default:
		return fmt.Errorf("shift: unknown anchor table %q", u.table)
	}
	if err != nil {
		return fmt.Errorf("shift %s %d: %w", u.table, u.id, err)
	}
	return nil
}
