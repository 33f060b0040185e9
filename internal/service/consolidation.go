package service

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/consolidation"
)

// ConsolidationService periodically runs the consolidation steps.
type ConsolidationService struct {
	runner   *consolidation.Runner
	interval time.Duration

	mu   sync.Mutex
	last *consolidation.Report
}

// NewConsolidationService creates a service running runner every interval.
func NewConsolidationService(runner *consolidation.Runner, interval time.Duration) *ConsolidationService {
	return &ConsolidationService{runner: runner, interval: interval}
}

// Start begins the periodic loop. Returns when ctx is cancelled. A zero
// interval disables the loop.
func (c *ConsolidationService) Start(ctx context.Context) {
	if c.interval <= 0 {
		log.Info("Consolidation: background loop disabled")
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error("Consolidation: run failed", "err", err)
			}
		}
	}
}

// RunOnce runs all steps now. Overlapping calls are serialized.
func (c *ConsolidationService) RunOnce(ctx context.Context) (consolidation.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	report, err := c.runner.Run(ctx)
	if err != nil {
		return report, err
	}
	c.last = &report
	log.Debug("Consolidation: run finished", "duration", time.Since(start), "changed", report.Changed())
	return report, nil
}

// Last returns the report of the most recent successful run, or nil.
func (c *ConsolidationService) Last() *consolidation.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
