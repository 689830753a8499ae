// Package events writes the audit trail. Recording is best effort by
// contract: callers log failures and keep going, so an audit outage
// never blocks a business transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions emitted by the transit engine.
const (
	ActionCreateTask         = "CREATE_TASK"
	ActionInitProcess        = "INIT_PROCESS"
	ActionMoveTask           = "MOVE_TASK"
	ActionSignTask           = "SIGN_TASK"
	ActionSignDenied         = "SIGN_TASK_DENIED"
	ActionRejectTask         = "REJECT_TASK"
	ActionRegisterCredential = "REGISTER_SIGNATURE"
)

type Changes map[string]any

// Recorder is the audit sink consumed by the engine.
type Recorder interface {
	Record(ctx context.Context, action, detail, subjectID, subjectTitle, actorID string, changes Changes) error
}

// SQLRecorder appends audit events to the audit_events table.
type SQLRecorder struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w SQLRecorder) Record(ctx context.Context, action, detail, subjectID, subjectTitle, actorID string, changes Changes) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if changes == nil {
		changes = Changes{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO audit_events(ts,action,detail,subject_id,subject_title,actor_id,changes_json) VALUES (?,?,?,?,?,?,?)`,
		ts, action, nullable(detail), nullable(subjectID), nullable(subjectTitle), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
