package software

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type fenceWaiter struct {
	value uint64
	event *Event
}

// Fence is a monotonically advancing counter set by the queue worker.
type Fence struct {
	h *handle

	mu        sync.Mutex
	completed uint64
	waiters   []fenceWaiter
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *Fence) SetEventOnCompletion(value uint64, event gpu.Event) error {
	if !f.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "fence")
	}
	e, ok := event.(*Event)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed >= value {
		e.set()
		return nil
	}
	f.waiters = append(f.waiters, fenceWaiter{value: value, event: e})
	return nil
}

func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = value
	pending := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= value {
			w.event.set()
			continue
		}
		pending = append(pending, w)
	}
	f.waiters = pending
}

func (f *Fence) Release() {
	f.h.release()
}

// Event is an auto-reset event.
type Event struct {
	h  *handle
	ch chan struct{}
}

func (e *Event) set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *Event) Wait(timeout time.Duration) error {
	if !e.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "event")
	}
	if timeout == gpu.WaitInfinite {
		<-e.ch
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return nil
	case <-timer.C:
		return errors.Wrapf(gpu.ErrWaitTimeout, "event not set within %s", timeout)
	}
}

func (e *Event) Release() {
	e.h.release()
}
