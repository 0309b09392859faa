// Package events provides the ordered, non-blocking progress channel between
// pipeline workers and the single UI consumer.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/metrics"
	"github.com/fentz26/pgxdash/internal/models"
)

// Channel is a multi-producer, single-consumer FIFO of progress events.
// Publish never waits on the consumer; the queue is unbounded.
type Channel struct {
	mu        sync.Mutex
	queue     []models.ProgressEvent
	nextSeq   uint64
	published uint64
	dropped   uint64
	now       func() time.Time
	log       zerolog.Logger
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{
		now: time.Now,
		log: logging.WithComponent("events"),
	}
}

// Publish enqueues ev with the next sequence number and returns true.
// If payload is non-nil it is serialized first; a serialization failure is
// logged and the event dropped, returning false.
func (c *Channel) Publish(ev models.ProgressEvent, payload any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.drop(ev, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.drop(ev, err)
			return false
		}
		ev.Payload = data
	}

	c.mu.Lock()
	c.nextSeq++
	ev.Sequence = c.nextSeq
	ev.Timestamp = c.now()
	c.queue = append(c.queue, ev)
	c.published++
	c.mu.Unlock()

	metrics.EventsPublished.Inc()
	return true
}

func (c *Channel) drop(ev models.ProgressEvent, err error) {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()

	metrics.EventsDropped.Inc()
	c.log.Error().Err(err).
		Str("run_id", ev.RunID).
		Str("gene", ev.Gene).
		Str("stage", string(ev.Stage)).
		Msg("Dropping progress event")
}

// Drain removes and returns up to limit pending events in sequence order.
// limit <= 0 drains everything. Drain never blocks waiting for events.
func (c *Channel) Drain(limit int) []models.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.queue)
	if n == 0 {
		return nil
	}
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]models.ProgressEvent, n)
	copy(out, c.queue[:n])

	// Release the drained prefix so the backing array can shrink.
	remaining := len(c.queue) - n
	if remaining == 0 {
		c.queue = nil
	} else {
		rest := make([]models.ProgressEvent, remaining)
		copy(rest, c.queue[n:])
		c.queue = rest
	}
	return out
}

// Stats is a snapshot of channel counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// Stats returns all counters under one lock.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Published: c.published, Dropped: c.dropped, Pending: len(c.queue)}
}

// Pending returns the number of undrained events.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Published returns how many events were accepted.
func (c *Channel) Published() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// Dropped returns how many events failed to publish.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
