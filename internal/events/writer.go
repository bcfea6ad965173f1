package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stageboard/internal/domain"
)

// Writer appends move outcomes to the local move journal.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) RecordMove(ctx context.Context, rec domain.MoveRecord) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	switch rec.Outcome {
	case domain.MoveConfirmed, domain.MoveRolledBack, domain.MoveCancelled:
	default:
		return fmt.Errorf("invalid move outcome %q", rec.Outcome)
	}
	ts := rec.TS
	if ts.IsZero() {
		ts = w.Now()
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO move_log(ts,project_id,task_id,from_stage_id,to_stage_id,position,outcome,error) VALUES (?,?,?,?,?,?,?,?)`,
		ts.UTC().Format(time.RFC3339Nano), rec.ProjectID, rec.TaskID, rec.FromStageID, rec.ToStageID, rec.Position, rec.Outcome, nullable(rec.Error))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
