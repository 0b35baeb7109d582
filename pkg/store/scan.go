package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autograph/gnnsearch/pkg/models"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*models.Run, error) {
	var run models.Run
	var status string
	var selected, errMsg sql.NullString
	var finished sql.NullTime

	err := sc.Scan(&run.ID, &run.BudgetS, &run.NumClasses, &run.NumNodes, &run.NumEdges,
		&run.Concurrency, &run.Submitted, &run.Completed, &run.Failed, &selected, &status,
		&errMsg, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.Error = errMsg.String
	if selected.Valid && selected.String != "" && selected.String != "null" {
		if err := json.Unmarshal([]byte(selected.String), &run.Selected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected: %w", err)
		}
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanTrial(sc scanner) (*models.TrialRecord, error) {
	var rec models.TrialRecord
	var spec, status string
	var errMsg sql.NullString
	var queued, started, finished sql.NullTime

	err := sc.Scan(&rec.RunID, &spec, &status, &rec.ValAccuracy, &errMsg,
		&queued, &started, &finished)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(spec), &rec.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}
	rec.Status = models.TrialStatus(status)
	rec.Error = errMsg.String
	rec.Timing = models.TrialTiming{
		QueuedAt:   queued.Time,
		StartedAt:  started.Time,
		FinishedAt: finished.Time,
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
