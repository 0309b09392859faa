// Package orchestrator fans a multi-gene analysis out across a bounded worker
// pool, streams progress into an event channel, and merges the per-gene
// outcomes into one report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fentz26/pgxdash/internal/analyzer"
	"github.com/fentz26/pgxdash/internal/events"
	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/metrics"
	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/report"
)

// Sentinel errors returned by Run for rejected requests.
var (
	ErrNoGenes            = errors.New("no genes requested")
	ErrInvalidConcurrency = errors.New("concurrency must not be negative")
)

// Recorder writes decision records. *audit.PDRWriter satisfies it.
type Recorder interface {
	Record(action string, inputs interface{}, outcome, runID, details string) (*models.PDREntry, error)
}

// Request describes one multi-gene run.
type Request struct {
	// RunID is generated when empty.
	RunID   string
	Genes   []string
	Patient *models.PatientContext
	// Concurrency is the pool size; 0 selects Config.DefaultConcurrency.
	Concurrency int
}

// Stats is a snapshot of worker activity.
type Stats struct {
	ActiveWorkers int `json:"active_workers"`
	PeakWorkers   int `json:"peak_workers"`
	Limit         int `json:"limit"`
}

// Orchestrator runs gene analyses concurrently.
type Orchestrator struct {
	analyzer analyzer.Analyzer
	channel  *events.Channel
	config   *Config
	pdr      Recorder
	newPool  PoolFactory
	now      func() time.Time
	log      zerolog.Logger

	mu            sync.Mutex
	activeWorkers int
	peakWorkers   int
	limit         int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records run.start, gene.dispatch, and run.finish decisions.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.pdr = r }
}

// WithPoolFactory replaces the worker pool constructor.
func WithPoolFactory(f PoolFactory) Option {
	return func(o *Orchestrator) { o.newPool = f }
}

// New creates an orchestrator that publishes into ch.
func New(a analyzer.Analyzer, ch *events.Channel, cfg *Config, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &Orchestrator{
		analyzer: a,
		channel:  ch,
		config:   cfg,
		newPool:  NewWorkerPool,
		now:      time.Now,
		log:      logging.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stats returns current worker statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		ActiveWorkers: o.activeWorkers,
		PeakWorkers:   o.peakWorkers,
		Limit:         o.limit,
	}
}

// NormalizeGenes upper-cases symbols, drops blanks, and removes duplicates
// keeping first-seen order.
func NormalizeGenes(genes []string) []string {
	seen := make(map[string]bool, len(genes))
	out := make([]string, 0, len(genes))
	for _, g := range genes {
		g = strings.ToUpper(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// Run analyzes every requested gene and returns the merged report. It blocks
// until all dispatched analyses finish. Cancelling ctx stops dispatching new
// genes; genes already running complete and genes never dispatched are
// reported as cancelled. Exactly one terminal event is published per
// accepted run.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.MultiGeneReport, error) {
	genes := NormalizeGenes(req.Genes)
	if len(genes) == 0 {
		return nil, ErrNoGenes
	}
	if req.Concurrency < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConcurrency, req.Concurrency)
	}

	size := req.Concurrency
	if size == 0 {
		size = o.config.DefaultConcurrency(len(genes))
	}
	if size > len(genes) {
		size = len(genes)
	}

	pool, err := o.newPool(size)
	if err != nil {
		return nil, &PoolCreationError{Size: size, Err: err}
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := o.log.With().Str("run_id", runID).Logger()
	emit := events.NewEmitter(o.channel, runID)
	startedAt := o.now()

	o.mu.Lock()
	o.limit = pool.Size()
	o.mu.Unlock()

	tasks := make([]*models.GeneTask, len(genes))
	byGene := make(map[string]*models.GeneTask, len(genes))
	for i, g := range genes {
		tasks[i] = models.NewGeneTask(g)
		byGene[g] = tasks[i]
	}

	o.record("run.start", map[string]interface{}{
		"genes":       genes,
		"concurrency": pool.Size(),
		"patient_id":  patientID(req.Patient),
	}, "accepted", runID, fmt.Sprintf("%d genes on %d workers", len(genes), pool.Size()))

	emit.Run(models.StageStarted, models.LevelInfo,
		fmt.Sprintf("Analyzing %d genes with %d workers", len(genes), pool.Size()),
		map[string]interface{}{"genes": genes, "concurrency": pool.Size()})
	log.Info().Strs("genes", genes).Int("workers", pool.Size()).Msg("Run started")

	undispatched := pool.Dispatch(ctx, genes, func(gene string) {
		o.runGene(ctx, runID, byGene[gene], req.Patient, emit)
	})

	for _, gene := range undispatched {
		o.cancelTask(byGene[gene], emit)
	}
	cancelled := false
	for _, t := range tasks {
		if t.Failure != nil && t.Failure.Kind == models.ErrorKindCancelled {
			cancelled = true
			break
		}
	}

	rep := report.Aggregate(runID, tasks)
	rep.PatientID = patientID(req.Patient)
	rep.Cancelled = cancelled
	rep.StartedAt = startedAt
	rep.FinishedAt = o.now()

	summary := map[string]interface{}{
		"overall_status": rep.OverallStatus,
		"cancelled":      rep.Cancelled,
		"succeeded":      rep.Summary.Succeeded,
		"failed":         rep.Summary.Failed,
	}
	label := string(rep.OverallStatus)
	if cancelled {
		label = "cancelled"
	}
	metrics.RunsTotal.WithLabelValues(label).Inc()
	o.record("run.finish", summary, label, runID,
		fmt.Sprintf("%d succeeded, %d failed", rep.Summary.Succeeded, rep.Summary.Failed))

	switch {
	case cancelled:
		emit.Run(models.StageError, models.LevelError,
			fmt.Sprintf("Run cancelled: %d of %d genes completed", rep.Summary.Succeeded, len(genes)), summary)
	case rep.OverallStatus == models.OverallAllFailed:
		emit.Run(models.StageError, models.LevelError,
			fmt.Sprintf("All %d genes failed", len(genes)), summary)
	default:
		emit.Run(models.StageComplete, models.LevelSuccess,
			fmt.Sprintf("Analysis complete: %d succeeded, %d failed", rep.Summary.Succeeded, rep.Summary.Failed), summary)
	}

	log.Info().
		Str("status", string(rep.OverallStatus)).
		Bool("cancelled", cancelled).
		Dur("elapsed", rep.FinishedAt.Sub(startedAt)).
		Msg("Run finished")
	return rep, nil
}

// runGene executes one task on a worker goroutine. It never panics and never
// returns an error: every outcome is recorded on the task.
func (o *Orchestrator) runGene(ctx context.Context, runID string, task *models.GeneTask, patient *models.PatientContext, emit *events.Emitter) {
	// The dispatcher may hand out an item in the same instant ctx is cancelled.
	if ctx.Err() != nil {
		o.cancelTask(task, emit)
		return
	}

	if err := task.Transition(models.TaskStateRunning, o.now()); err != nil {
		o.log.Error().Err(err).Msg("Cannot start gene task")
		return
	}
	o.workerStarted()
	defer o.workerFinished()

	o.record("gene.dispatch", map[string]interface{}{"gene": task.Gene}, "dispatched", runID, task.Gene)
	emit.Gene(task.Gene, models.StageDispatched, models.LevelInfo, "Analysis started", 0, nil)

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.GeneTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.safeAnalyze(actx, task.Gene, patient, emit.ForGene(task.Gene))
	metrics.GeneTaskDuration.Observe(time.Since(start).Seconds())

	if err == nil && result == nil {
		err = models.Errorf(models.ErrorKindInternal, "analyzer returned no result")
	}
	if err != nil {
		failure := models.NewFailureRecord(task.Gene, err)
		if ferr := task.Fail(failure, o.now()); ferr != nil {
			o.log.Error().Err(ferr).Msg("Cannot fail gene task")
		}
		metrics.GeneTasksTotal.WithLabelValues("failed", string(failure.Kind)).Inc()
		o.log.Warn().Str("run_id", runID).Str("gene", task.Gene).
			Str("kind", string(failure.Kind)).Err(err).Msg("Gene analysis failed")
		emit.Gene(task.Gene, models.StageFailed, models.LevelError, failure.Detail, 1, failure)
		return
	}

	if serr := task.Succeed(result, o.now()); serr != nil {
		o.log.Error().Err(serr).Msg("Cannot complete gene task")
	}
	metrics.GeneTasksTotal.WithLabelValues("succeeded", "").Inc()
	emit.Gene(task.Gene, models.StageSucceeded, models.LevelSuccess,
		fmt.Sprintf("%d variants, %d drugs", len(result.Variants), len(result.Drugs)), 1,
		map[string]int{"variants": len(result.Variants), "drugs": len(result.Drugs), "warnings": len(result.Warnings)})
}

func (o *Orchestrator) safeAnalyze(ctx context.Context, gene string, patient *models.PatientContext, rep analyzer.Reporter) (result *models.GeneResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("gene", gene).Interface("panic", r).
				Bytes("stack", debug.Stack()).Msg("Analyzer panicked")
			result = nil
			err = models.Errorf(models.ErrorKindInternal, "analyzer panic: %v", r)
		}
	}()
	return o.analyzer.Analyze(ctx, gene, patient, rep)
}

func (o *Orchestrator) cancelTask(task *models.GeneTask, emit *events.Emitter) {
	failure := &models.FailureRecord{
		Gene:   task.Gene,
		Kind:   models.ErrorKindCancelled,
		Detail: "run cancelled before analysis started",
	}
	if err := task.Fail(failure, o.now()); err != nil {
		o.log.Error().Err(err).Msg("Cannot cancel gene task")
		return
	}
	metrics.GeneTasksTotal.WithLabelValues("failed", string(models.ErrorKindCancelled)).Inc()
	emit.Gene(task.Gene, models.StageCancelled, models.LevelWarning, failure.Detail, 1, nil)
}

func (o *Orchestrator) workerStarted() {
	o.mu.Lock()
	o.activeWorkers++
	if o.activeWorkers > o.peakWorkers {
		o.peakWorkers = o.activeWorkers
	}
	o.mu.Unlock()
	metrics.ActiveWorkers.Inc()
}

func (o *Orchestrator) workerFinished() {
	o.mu.Lock()
	o.activeWorkers--
	o.mu.Unlock()
	metrics.ActiveWorkers.Dec()
}

func (o *Orchestrator) record(action string, inputs interface{}, outcome, runID, details string) {
	if o.pdr == nil {
		return
	}
	if _, err := o.pdr.Record(action, inputs, outcome, runID, details); err != nil {
		o.log.Warn().Err(err).Str("action", action).Msg("Failed to write decision record")
	}
}

func patientID(p *models.PatientContext) string {
	if p == nil {
		return ""
	}
	return p.PatientID
}
