package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/pgxdash/internal/events"
	"github.com/fentz26/pgxdash/internal/models"
)

func publishRun(ch *events.Channel, genes []string) {
	emit := events.NewEmitter(ch, "run-1")
	emit.Run(models.StageStarted, models.LevelInfo, "started", map[string]any{"genes": genes})
	for _, g := range genes {
		emit.Gene(g, models.StageDispatched, models.LevelInfo, "dispatched", 0, nil)
		emit.Gene(g, models.StageDiscovery, models.LevelInfo, "discovery", 0.25, nil)
		emit.Gene(g, models.StageSucceeded, models.LevelSuccess, "done", 1, nil)
	}
	emit.Run(models.StageComplete, models.LevelSuccess, "complete", nil)
}

func TestPollDrainsInBatches(t *testing.T) {
	ch := events.NewChannel()
	for i := 0; i < 25; i++ {
		ch.Publish(models.ProgressEvent{Gene: "CYP2D6", Stage: models.StageDiscovery}, nil)
	}
	c := NewConsumer(ch, Config{PollInterval: time.Millisecond, BatchSize: 10, MinRenderInterval: 0})

	now := time.Now()
	sizes := []int{10, 10, 5, 0}
	for i, want := range sizes {
		up := c.Poll(now.Add(time.Duration(i) * time.Second))
		if len(up.Events) != want {
			t.Errorf("Poll %d: got %d events, want %d", i, len(up.Events), want)
		}
	}
}

func TestPollThrottlesRendering(t *testing.T) {
	ch := events.NewChannel()
	c := NewConsumer(ch, Config{PollInterval: time.Millisecond, BatchSize: 10, MinRenderInterval: 100 * time.Millisecond})
	base := time.Now()

	ch.Publish(models.ProgressEvent{Gene: "TPMT", Stage: models.StageDispatched}, nil)
	if up := c.Poll(base); !up.Render {
		t.Fatal("First batch should render")
	}

	ch.Publish(models.ProgressEvent{Gene: "TPMT", Stage: models.StageDiscovery}, nil)
	up := c.Poll(base.Add(30 * time.Millisecond))
	if up.Render {
		t.Error("Render inside min interval should be throttled")
	}

	// No new events, but the throttled one must still be drawn once the interval passes.
	up = c.Poll(base.Add(120 * time.Millisecond))
	if !up.Render {
		t.Fatal("Throttled update should render after the interval")
	}
	if len(up.Pending) != 1 || up.Pending[0].Stage != models.StageDiscovery {
		t.Errorf("Expected the throttled event to be pending, got %+v", up.Pending)
	}

	if up := c.Poll(base.Add(300 * time.Millisecond)); up.Render {
		t.Error("Nothing new, no render expected")
	}
}

func TestTerminalEventBypassesThrottle(t *testing.T) {
	ch := events.NewChannel()
	c := NewConsumer(ch, Config{PollInterval: time.Millisecond, BatchSize: 2, MinRenderInterval: time.Hour})
	base := time.Now()

	ch.Publish(models.ProgressEvent{Gene: "TPMT", Stage: models.StageDispatched}, nil)
	c.Poll(base)

	ch.Publish(models.ProgressEvent{Stage: models.StageComplete, Level: models.LevelSuccess}, nil)
	// Published after the terminal event on purpose: it must still be drained.
	ch.Publish(models.ProgressEvent{Gene: "TPMT", Stage: models.StageSucceeded}, nil)
	ch.Publish(models.ProgressEvent{Gene: "TPMT", Stage: models.StageSucceeded}, nil)

	up := c.Poll(base.Add(time.Millisecond))
	if !up.Render {
		t.Error("Terminal event must force a render")
	}
	if !up.Done || !c.Done() {
		t.Error("Consumer should be done after the terminal event")
	}
	if ch.Pending() != 0 {
		t.Errorf("Channel should be drained to exhaustion, %d left", ch.Pending())
	}
	if len(up.Events) != 3 {
		t.Errorf("Expected 3 events in final poll, got %d", len(up.Events))
	}
	if next := c.Poll(base.Add(time.Second)); !next.Done || next.Render {
		t.Errorf("Polling after done should be a no-op, got %+v", next)
	}
}

func TestLoopRendersUntilTerminal(t *testing.T) {
	ch := events.NewChannel()
	genes := []string{"CYP2D6", "TPMT", "CYP2C19"}

	go func() {
		time.Sleep(20 * time.Millisecond)
		publishRun(ch, genes)
	}()

	c := NewConsumer(ch, Config{PollInterval: 5 * time.Millisecond, BatchSize: 10, MinRenderInterval: 10 * time.Millisecond})
	var seen []models.ProgressEvent
	var last Snapshot
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Loop(ctx, func(s Snapshot, evs []models.ProgressEvent) {
		seen = append(seen, evs...)
		last = s
	})
	if err != nil {
		t.Fatalf("Loop returned %v", err)
	}
	if len(seen) != 2+3*len(genes) {
		t.Errorf("Expected every event rendered once, got %d", len(seen))
	}
	if !last.Finished || last.Completed != len(genes) || last.Fraction() != 1 {
		t.Errorf("Unexpected final snapshot %+v", last)
	}
	if last.Terminal == nil || last.Terminal.Stage != models.StageComplete {
		t.Errorf("Expected complete terminal event, got %+v", last.Terminal)
	}
}

func TestLoopStopsOnContext(t *testing.T) {
	ch := events.NewChannel()
	c := NewConsumer(ch, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Loop(ctx, func(Snapshot, []models.ProgressEvent) {}); err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestTrackerSnapshot(t *testing.T) {
	ch := events.NewChannel()
	emit := events.NewEmitter(ch, "run-7")
	emit.Run(models.StageStarted, models.LevelInfo, "started", map[string]any{"genes": []string{"CYP2D6", "TPMT"}})
	emit.Gene("CYP2D6", models.StageDispatched, models.LevelInfo, "", 0, nil)
	emit.Gene("CYP2D6", models.StageAnnotation, models.LevelWarning, "ClinVar down", 0.5, nil)
	emit.Gene("TPMT", models.StageFailed, models.LevelError, "not found", 1, nil)

	tr := NewTracker()
	for _, ev := range ch.Drain(0) {
		tr.Apply(ev)
	}
	s := tr.Snapshot()

	if s.RunID != "run-7" || !s.Started || s.Finished {
		t.Errorf("Unexpected run state %+v", s)
	}
	if s.Total != 2 || s.Completed != 1 || s.Failed != 1 {
		t.Errorf("Expected 2 total, 1 completed, 1 failed: %+v", s)
	}
	if s.Genes[0].Gene != "CYP2D6" || s.Genes[0].Warnings != 1 || s.Genes[0].Progress != 0.5 {
		t.Errorf("Unexpected CYP2D6 status %+v", s.Genes[0])
	}
	if active := s.Active(); len(active) != 1 || active[0] != "CYP2D6" {
		t.Errorf("Expected CYP2D6 active, got %v", active)
	}
	if s.Fraction() != 0.5 {
		t.Errorf("Expected fraction 0.5, got %v", s.Fraction())
	}
}

func TestTextRendererPlain(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextRenderer(&buf, true)
	r.Render(Snapshot{Total: 2, Completed: 1}, []models.ProgressEvent{
		{Gene: "TPMT", Stage: models.StageFailed, Level: models.LevelError, Message: "not found"},
		{Stage: models.StageComplete, Message: "done"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "[1/2]") || !strings.Contains(lines[0], "TPMT") || !strings.Contains(lines[0], "not found") {
		t.Errorf("Unexpected line %q", lines[0])
	}
	if !strings.Contains(lines[1], "run") {
		t.Errorf("Run-level line should be labelled run, got %q", lines[1])
	}
}
