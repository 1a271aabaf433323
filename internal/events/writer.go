package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Spool audit event types.
const (
	TypeSpooled      = "spool.record_created"
	TypeDrained      = "spool.record_drained"
	TypeReplayFailed = "spool.replay_failed"
)

// Writer appends to the spool_events audit table.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row of the audit trail.
type Event struct {
	ID      int64           `json:"id"`
	TS      string          `json:"ts" format:"date-time"`
	Type    string          `json:"type"`
	SpoolID string          `json:"spool_id"`
	FileID  string          `json:"file_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, spoolID, fileID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO spool_events(ts,type,spool_id,file_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, spoolID, nullable(fileID), string(data))
	return err
}

// List returns the events of one spool record, oldest first.
func List(ctx context.Context, db *sql.DB, spoolID string) ([]Event, error) {
	rows, err := db.QueryContext(ctx, `SELECT id,ts,type,spool_id,COALESCE(file_id,''),payload_json FROM spool_events WHERE spool_id=? ORDER BY id`, spoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SpoolID, &e.FileID, &payload); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
