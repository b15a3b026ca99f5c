package service

import (
	"context"
	"log"
	"time"
)

// CodePruner periodically deletes guest and one-time codes whose window
// closed more than the retention period ago.  It runs as a background
// goroutine and is safe to stop via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type CodePruner struct {
	creds     *CredentialService
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewCodePruner.
type PrunerConfig struct {
	// RetentionDays is how many days expired codes are kept.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int
}

func NewCodePruner(creds *CredentialService, cfg PrunerConfig, logger *log.Logger) *CodePruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &CodePruner{
		creds:     creds,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately, then on every interval, until ctx is
// cancelled or Stop is called.
func (p *CodePruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Printf("code pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Printf("code pruner started (retention=%dd, interval=%dh)",
		int(p.retention.Hours()/24), int(p.interval.Hours()))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *CodePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *CodePruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *CodePruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.creds.PruneExpired(ctx, cutoff)
	if err != nil {
		p.logger.Printf("code prune error: %v", err)
		return
	}
	if deleted > 0 {
		p.logger.Printf("code prune: deleted %d codes expired before %s",
			deleted, cutoff.Format(time.RFC3339))
	}
}
