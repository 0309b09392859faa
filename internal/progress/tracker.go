// Package progress turns the event stream of a run into render-ready state on
// a single consumer goroutine.
package progress

import (
	"sort"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/models"
)

// GeneStatus is the latest known state of one gene.
type GeneStatus struct {
	Gene     string
	Stage    models.Stage
	Level    models.Level
	Message  string
	Progress float64
	Done     bool
	Warnings int
}

// Snapshot is an immutable view of run progress.
type Snapshot struct {
	RunID     string
	Started   bool
	Finished  bool
	Terminal  *models.ProgressEvent
	Total     int
	Completed int
	Failed    int
	Genes     []GeneStatus
	LastEvent *models.ProgressEvent
}

// Fraction returns overall completion in [0, 1].
func (s Snapshot) Fraction() float64 {
	if s.Finished {
		return 1
	}
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Tracker folds progress events into per-gene status. It is not safe for
// concurrent use; only the consumer goroutine touches it.
type Tracker struct {
	runID    string
	started  bool
	terminal *models.ProgressEvent
	last     *models.ProgressEvent
	order    []string
	genes    map[string]*GeneStatus
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{genes: make(map[string]*GeneStatus)}
}

type startedPayload struct {
	Genes []string `json:"genes"`
}

// Apply folds ev into the tracker.
func (t *Tracker) Apply(ev models.ProgressEvent) {
	t.last = &ev
	if t.runID == "" {
		t.runID = ev.RunID
	}

	if ev.Gene == "" {
		switch {
		case ev.Stage == models.StageStarted:
			t.started = true
			var p startedPayload
			if len(ev.Payload) > 0 && json.Unmarshal(ev.Payload, &p) == nil {
				for _, g := range p.Genes {
					t.gene(g)
				}
			}
		case ev.Stage.IsTerminal():
			t.terminal = &ev
		}
		return
	}

	g := t.gene(ev.Gene)
	if g.Done {
		return
	}
	g.Stage = ev.Stage
	g.Level = ev.Level
	g.Message = ev.Message
	if ev.Progress > g.Progress {
		g.Progress = ev.Progress
	}
	if ev.Level == models.LevelWarning {
		g.Warnings++
	}
	if ev.Stage.IsGeneTerminal() {
		g.Done = true
		g.Progress = 1
	}
}

func (t *Tracker) gene(name string) *GeneStatus {
	if g, ok := t.genes[name]; ok {
		return g
	}
	g := &GeneStatus{Gene: name, Stage: "pending"}
	t.genes[name] = g
	t.order = append(t.order, name)
	return g
}

// Finished reports whether the terminal event has been applied.
func (t *Tracker) Finished() bool {
	return t.terminal != nil
}

// Snapshot returns a copy of the current state, genes in first-seen order.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		RunID:     t.runID,
		Started:   t.started,
		Finished:  t.terminal != nil,
		Terminal:  t.terminal,
		Total:     len(t.order),
		LastEvent: t.last,
		Genes:     make([]GeneStatus, 0, len(t.order)),
	}
	for _, name := range t.order {
		g := *t.genes[name]
		if g.Done {
			s.Completed++
			if g.Stage != models.StageSucceeded {
				s.Failed++
			}
		}
		s.Genes = append(s.Genes, g)
	}
	return s
}

// Active returns the genes currently running, sorted by name.
func (s Snapshot) Active() []string {
	var out []string
	for _, g := range s.Genes {
		if !g.Done && g.Stage != "pending" {
			out = append(out, g.Gene)
		}
	}
	sort.Strings(out)
	return out
}
