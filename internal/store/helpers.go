package store

import (
	"database/sql"
	"fmt"

	"github.com/8428215330a-ui/Jarvis/internal/models"
)

// scanEntries reads rows of (id, seq, ts, sender, category, message) and
// returns them oldest first. Queries select newest first, so the slice is reversed.
func scanEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	defer rows.Close()
	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var sender, category string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Timestamp, &sender, &category, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry failed: %w", err)
		}
		e.Sender = models.Sender(sender)
		e.Category = models.Category(category)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries failed: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
