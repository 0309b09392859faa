package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fentz26/pgxdash/internal/analyzer"
	"github.com/fentz26/pgxdash/internal/audit"
	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/orchestrator"
	"github.com/fentz26/pgxdash/internal/progress"
	"github.com/fentz26/pgxdash/internal/store"
)

func fastConsumer() progress.Config {
	return progress.Config{PollInterval: 5 * time.Millisecond, BatchSize: 10, MinRenderInterval: 0}
}

func newTestService(t *testing.T, a analyzer.Analyzer) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(a, st, audit.NewPDRWriter(st), orchestrator.DefaultConfig(), fastConsumer()), st
}

var okAnalyzer = analyzer.Func(func(ctx context.Context, gene string, patient *models.PatientContext, rep analyzer.Reporter) (*models.GeneResult, error) {
	rep.Stage(models.StageDiscovery, "working", 0.5)
	if gene == "BAD1" {
		return nil, models.Errorf(models.ErrorKindNotFound, "unknown gene")
	}
	return &models.GeneResult{Gene: gene, Variants: []models.Variant{{ID: gene + "-v1"}}}, nil
})

func TestExecutePersistsRun(t *testing.T) {
	svc, st := newTestService(t, okAnalyzer)
	ctx := context.Background()

	var mu sync.Mutex
	var sawDone bool
	observed, calls := 0, 0
	rep, err := svc.Execute(ctx, RunRequest{
		Genes:   []string{"cyp2d6", "BAD1", "TPMT"},
		Patient: &models.PatientContext{PatientID: "P-9"},
	}, func(up progress.Update) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if !up.Render {
			t.Errorf("Observer called without a render: %+v", up)
		}
		observed += len(up.Pending)
		if up.Done {
			sawDone = true
		}
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rep.OverallStatus != models.OverallPartialFailure || rep.Cancelled {
		t.Errorf("Unexpected report status %s cancelled=%v", rep.OverallStatus, rep.Cancelled)
	}
	if !sawDone || observed == 0 {
		t.Errorf("Observer should see events and completion, got %d events done=%v", observed, sawDone)
	}
	if calls > observed {
		t.Errorf("Observer called %d times for %d events", calls, observed)
	}

	run, err := svc.Get(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.Status != models.RunStatusCompleted || run.Active || run.PatientID != "P-9" {
		t.Errorf("Unexpected run %+v", run)
	}
	if run.Report == nil || len(run.Report.Outcomes) != 3 {
		t.Fatalf("Report not persisted: %+v", run.Report)
	}

	evs, err := svc.Events(ctx, rep.RunID, 0, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(evs) == 0 || !evs[len(evs)-1].IsTerminal() {
		t.Fatalf("Expected persisted events ending in a terminal event, got %d", len(evs))
	}
	for i := 1; i < len(evs); i++ {
		if evs[i].Sequence <= evs[i-1].Sequence {
			t.Fatalf("Events out of order at %d", i)
		}
	}

	rows, err := st.GetGeneOutcomes(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("GetGeneOutcomes failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected 3 outcome rows, got %d", len(rows))
	}

	pdr, err := st.ListPDR(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(pdr) < 2 || pdr[0].Action != "run.start" || pdr[len(pdr)-1].Action != "run.finish" {
		t.Errorf("Unexpected audit trail %+v", pdr)
	}
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t, okAnalyzer)

	_, err := svc.Execute(context.Background(), RunRequest{Genes: []string{" ", ""}}, nil)
	if !errors.Is(err, orchestrator.ErrNoGenes) || !IsClientError(err) {
		t.Errorf("Expected ErrNoGenes, got %v", err)
	}
	_, err = svc.Execute(context.Background(), RunRequest{Genes: []string{"TPMT"}, Concurrency: -2}, nil)
	if !errors.Is(err, orchestrator.ErrInvalidConcurrency) || !IsClientError(err) {
		t.Errorf("Expected ErrInvalidConcurrency, got %v", err)
	}

	runs, err := svc.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Rejected requests must not create runs, got %d", len(runs))
	}
}

func TestAllFailedRunIsMarkedFailed(t *testing.T) {
	svc, _ := newTestService(t, okAnalyzer)
	rep, err := svc.Execute(context.Background(), RunRequest{Genes: []string{"BAD1"}}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	run, err := svc.Get(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.Status != models.RunStatusFailed || run.OverallStatus != models.OverallAllFailed {
		t.Errorf("Unexpected run %s / %s", run.Status, run.OverallStatus)
	}
}

func TestStartAndWait(t *testing.T) {
	svc, _ := newTestService(t, okAnalyzer)
	ctx := context.Background()

	runID, err := svc.Start(RunRequest{Genes: []string{"CYP2C19", "CYP2C9"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Wait(waitCtx, runID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	run, err := svc.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.Status != models.RunStatusCompleted || run.OverallStatus != models.OverallAllSucceeded {
		t.Errorf("Unexpected run %+v", run.Run)
	}
}

func TestCancelActiveRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := analyzer.Func(func(ctx context.Context, gene string, patient *models.PatientContext, rep analyzer.Reporter) (*models.GeneResult, error) {
		once.Do(func() { close(started) })
		<-release
		return &models.GeneResult{Gene: gene}, nil
	})
	svc, _ := newTestService(t, blocking)
	ctx := context.Background()

	runID, err := svc.Start(RunRequest{Genes: []string{"A1", "B2", "C3"}, Concurrency: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started

	view, err := svc.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !view.Active || view.Status != models.RunStatusRunning {
		t.Errorf("Expected active running run, got %+v", view)
	}
	if view.Workers == nil || view.Workers.ActiveWorkers != 1 || view.Workers.Limit != 1 {
		t.Errorf("Expected one active worker of one, got %+v", view.Workers)
	}
	if view.Events == nil || view.Events.Published < 2 || view.Events.Dropped != 0 {
		t.Errorf("Expected run start and dispatch events published, got %+v", view.Events)
	}

	if err := svc.Cancel(ctx, runID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Wait(waitCtx, runID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	run, err := svc.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if run.Status != models.RunStatusCancelled || run.Report == nil || !run.Report.Cancelled {
		t.Fatalf("Expected cancelled run, got %+v", run.Run)
	}
	if run.Workers != nil || run.Events != nil {
		t.Errorf("Finished runs carry no live stats, got %+v %+v", run.Workers, run.Events)
	}
	first, _ := run.Report.Outcome("A1")
	if !first.Succeeded() {
		t.Errorf("In-flight gene should finish, got %+v", first)
	}
	for _, g := range []string{"B2", "C3"} {
		o, _ := run.Report.Outcome(g)
		if o.Failure == nil || o.Failure.Kind != models.ErrorKindCancelled {
			t.Errorf("%s should be cancelled, got %+v", g, o)
		}
	}

	if err := svc.Cancel(ctx, runID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Expected ErrRunFinished, got %v", err)
	}
	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestShutdownRejectsNewRuns(t *testing.T) {
	svc, _ := newTestService(t, okAnalyzer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, err := svc.Start(RunRequest{Genes: []string{"TPMT"}}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}

func TestGetUnknownRun(t *testing.T) {
	svc, _ := newTestService(t, okAnalyzer)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if _, err := svc.Events(context.Background(), "nope", 0, 0); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(action string, inputs interface{}, outcome, runID, details string) (*models.PDREntry, error) {
	return nil, errors.New("disk full")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCancelLogsRecorderFailure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := analyzer.Func(func(ctx context.Context, gene string, patient *models.PatientContext, rep analyzer.Reporter) (*models.GeneResult, error) {
		once.Do(func() { close(started) })
		<-release
		return &models.GeneResult{Gene: gene}, nil
	})
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := New(blocking, st, failingRecorder{}, orchestrator.DefaultConfig(), fastConsumer())
	var logs lockedBuffer
	svc.log = zerolog.New(&logs)
	ctx := context.Background()

	runID, err := svc.Start(RunRequest{Genes: []string{"A1", "B2"}, Concurrency: 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-started
	if err := svc.Cancel(ctx, runID); err != nil {
		t.Fatalf("Cancel must succeed when the audit write fails: %v", err)
	}
	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Wait(waitCtx, runID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	out := logs.String()
	for _, want := range []string{`"action":"run.cancel"`, "disk full", "Failed to write decision record", runID} {
		if !strings.Contains(out, want) {
			t.Errorf("Log missing %q: %s", want, out)
		}
	}
}
