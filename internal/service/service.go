// Package service runs multi-gene analyses end to end: it records the run,
// drives the orchestrator, consumes the run's progress events into the
// store, and persists the final report.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fentz26/pgxdash/internal/analyzer"
	"github.com/fentz26/pgxdash/internal/events"
	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/orchestrator"
	"github.com/fentz26/pgxdash/internal/progress"
	"github.com/fentz26/pgxdash/internal/store"
)

// RunRequest describes one analysis.
type RunRequest struct {
	Genes       []string               `json:"genes"`
	Patient     *models.PatientContext `json:"patient,omitempty"`
	Concurrency int                    `json:"concurrency,omitempty"`
}

// Observer receives every consumer poll that is due for a render. The
// update's Pending slice holds all events since the previous render, and the
// final call has Done set. It runs on the consumer goroutine and must not
// block for long.
type Observer func(up progress.Update)

// RunView is a run record plus its live progress, worker and event channel
// statistics while it is active.
type RunView struct {
	models.Run
	Active   bool                `json:"active"`
	Progress *progress.Snapshot  `json:"progress,omitempty"`
	Workers  *orchestrator.Stats `json:"workers,omitempty"`
	Events   *events.Stats       `json:"events,omitempty"`
}

// Service provides run orchestration on top of the store.
type Service struct {
	analyzer analyzer.Analyzer
	store    *store.Store
	pdr      orchestrator.Recorder
	orchCfg  *orchestrator.Config
	consCfg  progress.Config
	log      zerolog.Logger

	mu       sync.Mutex
	active   map[string]*activeRun
	closing  bool
	inflight sync.WaitGroup
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	snap progress.Snapshot
	orch *orchestrator.Orchestrator
	ch   *events.Channel
}

// New creates a service. pdr may be nil.
func New(a analyzer.Analyzer, s *store.Store, pdr orchestrator.Recorder, orchCfg *orchestrator.Config, consCfg progress.Config) *Service {
	if orchCfg == nil {
		orchCfg = orchestrator.DefaultConfig()
	}
	return &Service{
		analyzer: a,
		store:    s,
		pdr:      pdr,
		orchCfg:  orchCfg,
		consCfg:  consCfg,
		log:      logging.WithComponent("service"),
		active:   make(map[string]*activeRun),
	}
}

// Execute runs an analysis on the calling goroutine and returns its report.
// Cancelling ctx stops dispatching further genes; the report then marks the
// run cancelled. obs may be nil.
func (s *Service) Execute(ctx context.Context, req RunRequest, obs Observer) (*models.MultiGeneReport, error) {
	runID, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ar, err := s.track(runID, cancel)
	if err != nil {
		return nil, err
	}
	defer s.untrack(runID, ar)

	return s.run(rctx, runID, req, ar, obs)
}

// Start begins an analysis in the background and returns its run ID.
func (s *Service) Start(req RunRequest) (string, error) {
	runID, err := s.begin(context.Background(), req)
	if err != nil {
		return "", err
	}

	rctx, cancel := context.WithCancel(context.Background())
	ar, err := s.track(runID, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	go func() {
		defer s.untrack(runID, ar)
		defer cancel()
		if _, err := s.run(rctx, runID, req, ar, nil); err != nil {
			s.log.Error().Err(err).Str("run_id", runID).Msg("Background run failed")
		}
	}()
	return runID, nil
}

// Cancel requests cancellation of an active run.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		ar.cancel()
		if s.pdr != nil {
			if _, err := s.pdr.Record("run.cancel", map[string]string{"run_id": runID}, "requested", runID, ""); err != nil {
				s.log.Warn().Err(err).Str("action", "run.cancel").Str("run_id", runID).Msg("Failed to write decision record")
			}
		}
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return ErrRunNotFound
	}
	return ErrRunFinished
}

// Get returns the run record and, if the run is active, its live progress.
func (s *Service) Get(ctx context.Context, runID string) (*RunView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	view := &RunView{Run: *run}

	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		ar.mu.Lock()
		snap := ar.snap
		orch, ch := ar.orch, ar.ch
		ar.mu.Unlock()
		view.Active = true
		view.Progress = &snap
		if orch != nil {
			stats := orch.Stats()
			view.Workers = &stats
		}
		if ch != nil {
			stats := ch.Stats()
			view.Events = &stats
		}
	}
	return view, nil
}

// List returns recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// Events returns persisted events of a run after the given sequence number.
func (s *Service) Events(ctx context.Context, runID string, after uint64, limit int) ([]models.ProgressEvent, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return s.store.GetEvents(ctx, runID, after, limit)
}

// Wait blocks until the run finishes or ctx is done. It returns immediately
// for runs that are not active.
func (s *Service) Wait(ctx context.Context, runID string) error {
	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown rejects new runs, cancels active ones, and waits for them to
// persist their reports.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, ar := range s.active {
		ar.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin validates req and records the run.
func (s *Service) begin(ctx context.Context, req RunRequest) (string, error) {
	genes := orchestrator.NormalizeGenes(req.Genes)
	if len(genes) == 0 {
		return "", orchestrator.ErrNoGenes
	}
	if req.Concurrency < 0 {
		return "", fmt.Errorf("%w: %d", orchestrator.ErrInvalidConcurrency, req.Concurrency)
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return "", ErrShuttingDown
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Genes:     genes,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if req.Patient != nil {
		run.PatientID = req.Patient.PatientID
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return run.ID, nil
}

func (s *Service) track(runID string, cancel context.CancelFunc) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		if err := s.store.FinishRun(context.Background(), runID, models.RunStatusFailed, nil); err != nil {
			s.log.Warn().Err(err).Str("run_id", runID).Msg("Failed to mark rejected run")
		}
		return nil, ErrShuttingDown
	}
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[runID] = ar
	s.inflight.Add(1)
	return ar, nil
}

func (s *Service) untrack(runID string, ar *activeRun) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
	close(ar.done)
	s.inflight.Done()
}

type runResult struct {
	report *models.MultiGeneReport
	err    error
}

// run drives one orchestrator run and consumes its events until both the
// terminal event has been drained and the orchestrator has returned.
func (s *Service) run(ctx context.Context, runID string, req RunRequest, ar *activeRun, obs Observer) (*models.MultiGeneReport, error) {
	log := s.log.With().Str("run_id", runID).Logger()
	ch := events.NewChannel()
	orch := orchestrator.New(s.analyzer, ch, s.orchCfg, s.orchestratorOptions()...)
	ar.mu.Lock()
	ar.orch, ar.ch = orch, ch
	ar.mu.Unlock()

	results := make(chan runResult, 1)
	go func() {
		rep, err := orch.Run(ctx, orchestrator.Request{
			RunID:       runID,
			Genes:       req.Genes,
			Patient:     req.Patient,
			Concurrency: req.Concurrency,
		})
		results <- runResult{report: rep, err: err}
	}()

	consumer := progress.NewConsumer(ch, s.consCfg)
	ticker := time.NewTicker(consumer.Config().PollInterval)
	defer ticker.Stop()

	// Persisting must not be cut short by the run's own cancellation.
	pctx := context.WithoutCancel(ctx)

	var res runResult
	finished := false
	for {
		up := consumer.Poll(time.Now())
		if len(up.Events) > 0 {
			if err := s.store.AppendEvents(pctx, up.Events); err != nil {
				log.Warn().Err(err).Int("events", len(up.Events)).Msg("Failed to persist events")
			}
		}
		ar.mu.Lock()
		ar.snap = up.Snapshot
		ar.mu.Unlock()
		if obs != nil && up.Render {
			obs(up)
		}

		// A run rejected before publishing anything never emits a terminal event.
		if finished && (up.Done || res.err != nil) {
			break
		}

		select {
		case res = <-results:
			finished = true
			results = nil
		case <-ticker.C:
		}
	}

	if res.err != nil {
		if err := s.store.FinishRun(pctx, runID, models.RunStatusFailed, nil); err != nil {
			log.Warn().Err(err).Msg("Failed to mark run failed")
		}
		return nil, res.err
	}

	rep := res.report
	if err := s.store.SaveGeneOutcomes(pctx, runID, rep.Outcomes); err != nil {
		log.Warn().Err(err).Msg("Failed to persist gene outcomes")
	}
	if err := s.store.FinishRun(pctx, runID, runStatus(rep), rep); err != nil {
		return rep, fmt.Errorf("persist report: %w", err)
	}
	return rep, nil
}

func (s *Service) orchestratorOptions() []orchestrator.Option {
	if s.pdr == nil {
		return nil
	}
	return []orchestrator.Option{orchestrator.WithRecorder(s.pdr)}
}

func runStatus(rep *models.MultiGeneReport) models.RunStatus {
	switch {
	case rep.Cancelled:
		return models.RunStatusCancelled
	case rep.OverallStatus == models.OverallAllFailed:
		return models.RunStatusFailed
	default:
		return models.RunStatusCompleted
	}
}

// IsClientError reports whether err was caused by an invalid request.
func IsClientError(err error) bool {
	return errors.Is(err, orchestrator.ErrNoGenes) || errors.Is(err, orchestrator.ErrInvalidConcurrency)
}
