package service

import (
	"context"
	"errors"
	"sync"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

var ErrActuatorClosed = errors.New("actuator closed")

// DoorLink is the controller connection the Actuator drives.
type DoorLink interface {
	Unlock(ctx context.Context, hold int) error
	Lock(ctx context.Context) error
	GetState(ctx context.Context) types.DoorState
}

type actuation struct {
	ctx  context.Context
	lock bool
	hold int
	ch   chan error
}

// Actuator is the only owner of the door.  Producers submit requests and
// a single goroutine sends them to the link one at a time.
type Actuator struct {
	link DoorLink
	reqs chan actuation
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewActuator(link DoorLink) *Actuator {
	a := &Actuator{
		link: link,
		reqs: make(chan actuation, 8),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Actuator) Unlock(ctx context.Context, hold int) error {
	return a.submit(ctx, actuation{hold: hold})
}

func (a *Actuator) Lock(ctx context.Context) error {
	return a.submit(ctx, actuation{lock: true})
}

// Close stops accepting requests and waits for the queue to drain.
func (a *Actuator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.reqs)
	a.mu.Unlock()
	<-a.done
}

func (a *Actuator) submit(ctx context.Context, req actuation) error {
	req.ctx = ctx
	req.ch = make(chan error, 1)

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrActuatorClosed
	}
	select {
	case a.reqs <- req:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()

	select {
	case err := <-req.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actuator) loop() {
	defer close(a.done)

	for req := range a.reqs {
		if err := req.ctx.Err(); err != nil {
			req.ch <- err
			continue
		}
		if req.lock {
			req.ch <- a.link.Lock(req.ctx)
		} else {
			req.ch <- a.link.Unlock(req.ctx, req.hold)
		}
	}
}
