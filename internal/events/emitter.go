package events

import "github.com/fentz26/pgxdash/internal/models"

// Emitter publishes events for one run.
type Emitter struct {
	ch    *Channel
	runID string
}

// NewEmitter binds ch to runID.
func NewEmitter(ch *Channel, runID string) *Emitter {
	return &Emitter{ch: ch, runID: runID}
}

// Run publishes a run-level event.
func (e *Emitter) Run(stage models.Stage, level models.Level, message string, payload any) bool {
	return e.ch.Publish(models.ProgressEvent{
		RunID:   e.runID,
		Stage:   stage,
		Level:   level,
		Message: message,
	}, payload)
}

// Gene publishes a gene-level event.
func (e *Emitter) Gene(gene string, stage models.Stage, level models.Level, message string, progress float64, payload any) bool {
	return e.ch.Publish(models.ProgressEvent{
		RunID:    e.runID,
		Gene:     gene,
		Stage:    stage,
		Level:    level,
		Message:  message,
		Progress: progress,
	}, payload)
}

// ForGene returns a reporter bound to one gene, handed to the worker running it.
func (e *Emitter) ForGene(gene string) *GeneReporter {
	return &GeneReporter{emitter: e, gene: gene}
}

// GeneReporter publishes analyzer stage updates for a single gene.
type GeneReporter struct {
	emitter *Emitter
	gene    string
}

// Stage reports progress inside an analyzer stage.
func (r *GeneReporter) Stage(stage models.Stage, message string, progress float64) {
	r.emitter.Gene(r.gene, stage, models.LevelInfo, message, progress, nil)
}

// Warn reports a non-fatal problem inside an analyzer stage.
func (r *GeneReporter) Warn(stage models.Stage, message string) {
	r.emitter.Gene(r.gene, stage, models.LevelWarning, message, 0, nil)
}
