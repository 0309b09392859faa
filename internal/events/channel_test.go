package events

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fentz26/pgxdash/internal/metrics"
	"github.com/fentz26/pgxdash/internal/models"
)

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	ch := NewChannel()
	for i := 0; i < 5; i++ {
		if !ch.Publish(models.ProgressEvent{RunID: "r1", Stage: models.StageDispatched}, nil) {
			t.Fatalf("Publish %d rejected", i)
		}
	}

	got := ch.Drain(0)
	if len(got) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Sequence != uint64(i+1) {
			t.Errorf("Event %d: sequence %d, want %d", i, ev.Sequence, i+1)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("Event %d: timestamp not set", i)
		}
	}
}

func TestDrainRespectsMax(t *testing.T) {
	ch := NewChannel()
	for i := 0; i < 25; i++ {
		ch.Publish(models.ProgressEvent{Message: fmt.Sprintf("e%d", i)}, nil)
	}

	first := ch.Drain(10)
	if len(first) != 10 {
		t.Fatalf("Expected 10 events, got %d", len(first))
	}
	if ch.Pending() != 15 {
		t.Errorf("Expected 15 pending, got %d", ch.Pending())
	}
	second := ch.Drain(10)
	if second[0].Sequence != first[9].Sequence+1 {
		t.Errorf("Drain lost ordering: %d after %d", second[0].Sequence, first[9].Sequence)
	}
	rest := ch.Drain(10)
	if len(rest) != 5 {
		t.Errorf("Expected 5 remaining events, got %d", len(rest))
	}
	if ev := ch.Drain(10); ev != nil {
		t.Errorf("Expected empty drain, got %d events", len(ev))
	}
}

func TestPublishDropsUnserializablePayload(t *testing.T) {
	ch := NewChannel()
	publishedBefore := testutil.ToFloat64(metrics.EventsPublished)
	droppedBefore := testutil.ToFloat64(metrics.EventsDropped)

	if ch.Publish(models.ProgressEvent{Stage: models.StageAssembly}, map[string]float64{"bad": math.NaN()}) {
		t.Error("Expected publish with NaN payload to fail")
	}
	if !ch.Publish(models.ProgressEvent{Stage: models.StageAssembly}, map[string]int{"variants": 3}) {
		t.Error("Expected publish with valid payload to succeed")
	}

	if ch.Dropped() != 1 || ch.Published() != 1 {
		t.Errorf("Expected 1 dropped and 1 published, got %d and %d", ch.Dropped(), ch.Published())
	}
	if st := ch.Stats(); st != (Stats{Published: 1, Dropped: 1, Pending: 1}) {
		t.Errorf("Unexpected stats %+v", st)
	}
	if d := testutil.ToFloat64(metrics.EventsDropped) - droppedBefore; d != 1 {
		t.Errorf("Expected dropped counter +1, got %+v", d)
	}
	if d := testutil.ToFloat64(metrics.EventsPublished) - publishedBefore; d != 1 {
		t.Errorf("Expected published counter +1, got %+v", d)
	}
	got := ch.Drain(0)
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if string(got[0].Payload) != `{"variants":3}` {
		t.Errorf("Unexpected payload %s", got[0].Payload)
	}
	if got[0].Sequence != 1 {
		t.Errorf("Dropped event must not consume a sequence, got %d", got[0].Sequence)
	}
	if st := ch.Stats(); st.Pending != 0 || st.Published != 1 {
		t.Errorf("Drain should empty the queue but keep counters, got %+v", st)
	}
}

func TestConcurrentPublishNoLoss(t *testing.T) {
	ch := NewChannel()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			gene := fmt.Sprintf("G%d", p)
			for i := 0; i < perProducer; i++ {
				ch.Publish(models.ProgressEvent{Gene: gene, Message: fmt.Sprint(i)}, nil)
			}
		}(p)
	}

	// Drain concurrently with publishers.
	var drained []models.ProgressEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(drained) < producers*perProducer {
			drained = append(drained, ch.Drain(10)...)
		}
	}()
	wg.Wait()
	<-done

	seen := make(map[uint64]bool)
	lastByGene := make(map[string]uint64)
	for i, ev := range drained {
		if seen[ev.Sequence] {
			t.Fatalf("Duplicate sequence %d", ev.Sequence)
		}
		seen[ev.Sequence] = true
		if i > 0 && ev.Sequence <= drained[i-1].Sequence {
			t.Fatalf("Drain order broken at %d", i)
		}
		if ev.Sequence <= lastByGene[ev.Gene] {
			t.Fatalf("Per-producer order broken for %s", ev.Gene)
		}
		lastByGene[ev.Gene] = ev.Sequence
	}
	if len(seen) != producers*perProducer {
		t.Errorf("Expected %d events, got %d", producers*perProducer, len(seen))
	}
}

func TestGeneReporter(t *testing.T) {
	ch := NewChannel()
	rep := NewEmitter(ch, "run-1").ForGene("TPMT")
	rep.Stage(models.StageDiscovery, "looking up accession", 0.1)
	rep.Warn(models.StageAnnotation, "ClinVar unavailable")

	got := ch.Drain(0)
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Gene != "TPMT" || got[0].RunID != "run-1" || got[0].Stage != models.StageDiscovery {
		t.Errorf("Unexpected first event %+v", got[0])
	}
	if got[1].Level != models.LevelWarning {
		t.Errorf("Expected warning level, got %s", got[1].Level)
	}
}
