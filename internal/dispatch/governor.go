package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadline-io/leadline/internal/identity"
)

const (
	tickPeriod     = 2 * time.Second
	driftThreshold = 500 * time.Millisecond
	nominalDrain   = 3
	degradedDrain  = 1
)

// Runner processes one queue item.
type Runner interface {
	Apply(ctx context.Context, tenantID string, id identity.Canonical) error
}

// Governor drains the queue on a fixed tick and sheds load when the process
// falls behind. A tick that arrives much later than scheduled means the CPU
// is contended, so that tick drains one item instead of three.
type Governor struct {
	queue  *Queue
	runner Runner

	period    time.Duration
	threshold time.Duration
	now       func() time.Time // test seam
}

func NewGovernor(queue *Queue, runner Runner) *Governor {
	return &Governor{
		queue:     queue,
		runner:    runner,
		period:    tickPeriod,
		threshold: driftThreshold,
		now:       time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.period)
	defer ticker.Stop()

	last := g.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := g.now()
			g.tick(ctx, now.Sub(last))
			last = now
		}
	}
}

// tick drains and processes one batch. Exported through Run; split out so the
// degradation logic is testable without real time.
func (g *Governor) tick(ctx context.Context, elapsed time.Duration) {
	n := g.drainSize(elapsed)
	items := g.queue.Drain(n)

	for _, item := range items {
		if err := g.runner.Apply(ctx, item.TenantID, item.ID); err != nil {
			slog.Error("ai pass failed", "tenant", item.TenantID, "identity", item.ID, "error", err)
		}
	}
}

func (g *Governor) drainSize(elapsed time.Duration) int {
	drift := elapsed - g.period
	if drift > g.threshold {
		slog.Warn("tick degraded, shedding load", "drift", drift)
		return degradedDrain
	}
	return nominalDrain
}
