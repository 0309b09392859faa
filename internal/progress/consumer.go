package progress

import (
	"context"
	"time"

	"github.com/fentz26/pgxdash/internal/config"
	"github.com/fentz26/pgxdash/internal/events"
	"github.com/fentz26/pgxdash/internal/models"
)

// Config controls polling and render throttling.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	MinRenderInterval time.Duration
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      75 * time.Millisecond,
		BatchSize:         10,
		MinRenderInterval: 100 * time.Millisecond,
	}
}

// ConfigFrom converts loaded settings.
func ConfigFrom(c config.ConsumerConfig) Config {
	return Config{
		PollInterval:      c.PollInterval,
		BatchSize:         c.BatchSize,
		MinRenderInterval: c.MinRenderInterval,
	}
}

// Update is the result of one poll.
type Update struct {
	// Events drained in this poll.
	Events []models.ProgressEvent
	// Render is true when the caller should redraw; Pending then holds every
	// event applied since the previous render.
	Render  bool
	Pending []models.ProgressEvent
	// Done is true once the terminal event has been seen and the channel drained.
	Done     bool
	Snapshot Snapshot
}

// Consumer drains one run's event channel. All methods must be called from a
// single goroutine, typically the UI loop.
type Consumer struct {
	ch         *events.Channel
	cfg        Config
	tracker    *Tracker
	lastRender time.Time
	pending    []models.ProgressEvent
	dirty      bool
	done       bool
}

// NewConsumer creates a consumer for ch.
func NewConsumer(ch *events.Channel, cfg Config) *Consumer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Consumer{ch: ch, cfg: cfg, tracker: NewTracker()}
}

// Config returns the effective configuration.
func (c *Consumer) Config() Config {
	return c.cfg
}

// Done reports whether the terminal event has been consumed.
func (c *Consumer) Done() bool {
	return c.done
}

// Snapshot returns the current tracked state.
func (c *Consumer) Snapshot() Snapshot {
	return c.tracker.Snapshot()
}

// Poll drains at most BatchSize events and decides whether a redraw is due.
// Redraws are throttled to MinRenderInterval, except that the terminal event
// always forces one. After the terminal event the channel is drained fully.
func (c *Consumer) Poll(now time.Time) Update {
	if c.done {
		return Update{Done: true, Snapshot: c.tracker.Snapshot()}
	}

	batch := c.ch.Drain(c.cfg.BatchSize)
	terminal := false
	for _, ev := range batch {
		c.tracker.Apply(ev)
		if ev.IsTerminal() {
			terminal = true
		}
	}
	if terminal {
		rest := c.ch.Drain(0)
		for _, ev := range rest {
			c.tracker.Apply(ev)
		}
		batch = append(batch, rest...)
		c.done = true
	}
	if len(batch) > 0 {
		c.pending = append(c.pending, batch...)
		c.dirty = true
	}

	up := Update{Events: batch, Done: c.done}
	if c.dirty && (terminal || now.Sub(c.lastRender) >= c.cfg.MinRenderInterval) {
		up.Render = true
		up.Pending = c.pending
		c.pending = nil
		c.dirty = false
		c.lastRender = now
	}
	up.Snapshot = c.tracker.Snapshot()
	return up
}

// RenderFunc draws the current state.
type RenderFunc func(snap Snapshot, events []models.ProgressEvent)

// Loop polls on a fixed interval until the terminal event is rendered or ctx
// is done. It must run on the goroutine that owns rendering.
func (c *Consumer) Loop(ctx context.Context, render RenderFunc) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		up := c.Poll(time.Now())
		if up.Render {
			render(up.Snapshot, up.Pending)
		}
		if up.Done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
