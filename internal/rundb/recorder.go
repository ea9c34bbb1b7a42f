package rundb

import (
	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/project"
	"github.com/banshee-data/nlfff/internal/quality"
)

// Recorder writes the levels of one run. Only every SampleEvery-th
// iteration is stored; iteration 0 and the final record of a level are
// always kept.
type Recorder struct {
	db          *DB
	runID       string
	sampleEvery int
}

// Recorder returns a recorder for runID. sampleEvery <= 0 stores only the
// first and final iterations.
func (db *DB) Recorder(runID string, sampleEvery int) *Recorder {
	return &Recorder{db: db, runID: runID, sampleEvery: sampleEvery}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) BeginLevel(level int, d field.Dims) error {
	return r.db.BeginLevel(r.runID, level, d)
}

func (r *Recorder) RecordIteration(level int, m quality.Metrics) error {
	if m.Iteration != 0 && (r.sampleEvery <= 0 || m.Iteration%r.sampleEvery != 0) {
		return nil
	}
	return r.db.RecordIteration(r.runID, level, m)
}

func (r *Recorder) EndLevel(s project.Summary) error {
	if err := r.db.RecordIteration(r.runID, s.Level, s.Final); err != nil {
		return err
	}
	return r.db.EndLevel(r.runID, s)
}
