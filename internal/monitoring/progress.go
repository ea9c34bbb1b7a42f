package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/nlfff/internal/timeutil"
)

// Run states reported by Progress.
const (
	RunStatusIdle     = "idle"
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// LevelProgress is the latest known state of one grid level.
type LevelProgress struct {
	Level      int     `json:"level"`
	Dims       string  `json:"dims"`
	Status     string  `json:"status"`
	Iteration  int     `json:"iteration"`
	CWsin      float64 `json:"cwsin"`
	DivMean    float64 `json:"div_mean"`
	DivMax     float64 `json:"div_max"`
	Functional float64 `json:"functional"`
	Step       float64 `json:"step"`
}

// ProgressSnapshot is a copy of the tracked state, safe to serialize.
type ProgressSnapshot struct {
	RunID     string          `json:"run_id,omitempty"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Levels    []LevelProgress `json:"levels"`
}

// Progress tracks a cascade for the debug server. All methods are safe for
// concurrent use.
type Progress struct {
	mu    sync.RWMutex
	state ProgressSnapshot
	clock timeutil.Clock
}

// NewProgress returns an idle tracker.
func NewProgress() *Progress {
	return &Progress{state: ProgressSnapshot{Status: RunStatusIdle}, clock: timeutil.RealClock{}}
}

// Start resets the tracker for a new run.
func (p *Progress) Start(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.clock.Now()
	p.state = ProgressSnapshot{RunID: runID, Status: RunStatusRunning, StartedAt: t, UpdatedAt: t}
}

// Level records the state of a level, adding it if it is new.
func (p *Progress) Level(lp LevelProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.UpdatedAt = p.clock.Now()
	for i := range p.state.Levels {
		if p.state.Levels[i].Level == lp.Level {
			p.state.Levels[i] = lp
			return
		}
	}
	p.state.Levels = append(p.state.Levels, lp)
}

// Finish marks the run complete. A non-nil err marks it failed.
func (p *Progress) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.UpdatedAt = p.clock.Now()
	if err != nil {
		p.state.Status = RunStatusFailed
		p.state.Error = err.Error()
		return
	}
	p.state.Status = RunStatusFinished
}

// Snapshot returns a deep copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.Levels = append([]LevelProgress(nil), p.state.Levels...)
	return s
}

// ServeHTTP writes the snapshot as JSON.
func (p *Progress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
