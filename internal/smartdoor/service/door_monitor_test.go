package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store/memory"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

func TestDoorMonitor_PollSyncsSettings(t *testing.T) {
	ctx := context.Background()
	settings := service.NewSettingsService(memory.NewSettingsStore())
	link := &fakeLink{state: types.DoorOpen}

	var health []bool
	mon := service.NewDoorMonitor(link, settings, service.MonitorConfig{
		OnHealth: func(ok bool) { health = append(health, ok) },
	}, silentLogger())

	if got := mon.Poll(ctx); got != types.DoorOpen {
		t.Fatalf("expected open, got %s", got)
	}
	s, _ := settings.Snapshot(ctx)
	if s.DoorState != types.DoorOpen {
		t.Errorf("expected settings door_state open, got %s", s.DoorState)
	}
	if len(health) != 1 || !health[0] {
		t.Errorf("expected healthy poll, got %v", health)
	}
}

func TestDoorMonitor_UnknownKeepsLastState(t *testing.T) {
	ctx := context.Background()
	settings := service.NewSettingsService(memory.NewSettingsStore())
	_ = settings.SetDoorState(ctx, types.DoorOpen)

	var health []bool
	mon := service.NewDoorMonitor(&fakeLink{}, settings, service.MonitorConfig{
		OnHealth: func(ok bool) { health = append(health, ok) },
	}, silentLogger())

	if got := mon.Poll(ctx); got != types.DoorUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
	s, _ := settings.Snapshot(ctx)
	if s.DoorState != types.DoorOpen {
		t.Errorf("unknown must not overwrite door_state, got %s", s.DoorState)
	}
	if len(health) != 1 || health[0] {
		t.Errorf("expected unhealthy poll, got %v", health)
	}
}

func TestDoorMonitor_StartPollsImmediately(t *testing.T) {
	settings := service.NewSettingsService(memory.NewSettingsStore())

	var once sync.Once
	polled := make(chan struct{})
	mon := service.NewDoorMonitor(&fakeLink{state: types.DoorClosed}, settings, service.MonitorConfig{
		OnHealth: func(bool) { once.Do(func() { close(polled) }) },
	}, silentLogger())

	mon.Start(context.Background())
	<-polled
	mon.Stop()
}
