package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// DoorMonitor polls the controller for the door state, keeps the
// settings row in step and reports link health.  It is the host side of
// the controller heartbeat.
type DoorMonitor struct {
	link     DoorLink
	settings *SettingsService
	interval time.Duration
	onHealth func(ok bool)
	logger   *log.Logger

	last   types.DoorState
	cancel context.CancelFunc
	done   chan struct{}
}

type MonitorConfig struct {
	// Interval between polls.  Defaults to 10s.
	Interval time.Duration
	// OnHealth is called after every poll with whether the controller
	// answered.
	OnHealth func(ok bool)
}

func NewDoorMonitor(link DoorLink, settings *SettingsService, cfg MonitorConfig, logger *log.Logger) *DoorMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.OnHealth == nil {
		cfg.OnHealth = func(bool) {}
	}
	return &DoorMonitor{
		link:     link,
		settings: settings,
		interval: cfg.Interval,
		onHealth: cfg.OnHealth,
		logger:   logger,
		last:     types.DoorUnknown,
		done:     make(chan struct{}),
	}
}

func (m *DoorMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.logger.Printf("door monitor started (interval=%s)", m.interval)
}

func (m *DoorMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *DoorMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll queries the controller once.  Unknown never overwrites the stored
// door state.
func (m *DoorMonitor) Poll(ctx context.Context) types.DoorState {
	state := m.link.GetState(ctx)
	ok := state != types.DoorUnknown
	m.onHealth(ok)

	if state != m.last {
		m.logger.Printf("door state changed: %s -> %s", m.last, state)
		m.last = state
	}
	if !ok {
		return state
	}

	cur, err := m.settings.Snapshot(ctx)
	if err != nil {
		m.logger.Printf("door monitor: settings read error: %v", err)
		return state
	}
	if cur.DoorState != state {
		if err := m.settings.SetDoorState(ctx, state); err != nil {
			m.logger.Printf("door monitor: settings write error: %v", err)
		}
	}
	return state
}
