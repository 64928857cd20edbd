package software

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type queueItem struct {
	lists   []*recordedList
	fence   *Fence
	value   uint64
	present *presentRequest
}

type presentRequest struct {
	swapchain *Swapchain
	index     uint32
}

// Queue executes work strictly in submission order on its own goroutine.
type Queue struct {
	h      *handle
	device *Device

	mu     sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	closed bool
	done   chan struct{}
}

func newQueue(h *handle, d *Device) *Queue {
	q := &Queue{h: h, device: d, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) controller() *Controller {
	return q.device.adapter.factory.controller
}

func (q *Queue) enqueue(item queueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrap(gpu.ErrReleased, "queue")
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

func (q *Queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	if !q.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "queue")
	}
	if err := q.device.adapter.factory.allowExecute(); err != nil {
		return err
	}
	recorded := make([]*recordedList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return gpu.ErrWrongBackendObject
		}
		r, err := cl.snapshot()
		if err != nil {
			return err
		}
		recorded = append(recorded, r)
	}
	for _, r := range recorded {
		r.allocator.begin()
	}
	return q.enqueue(queueItem{lists: recorded})
}

func (q *Queue) Signal(fence gpu.Fence, value uint64) error {
	if !q.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "queue")
	}
	f, ok := fence.(*Fence)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	return q.enqueue(queueItem{fence: f, value: value})
}

func (q *Queue) present(sc *Swapchain, index uint32) error {
	return q.enqueue(queueItem{present: &presentRequest{swapchain: sc, index: index}})
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		switch {
		case item.lists != nil:
			for _, l := range item.lists {
				if !q.controller().acquire(q.isClosed) {
					return
				}
				if d := q.controller().delay; d > 0 {
					time.Sleep(d)
				}
				l.execute(q.device)
				l.allocator.end()
				q.controller().done()
			}
		case item.fence != nil:
			item.fence.signal(item.value)
		case item.present != nil:
			item.present.swapchain.presented(item.present.index)
		}
	}
}

func (q *Queue) Release() {
	if !q.h.release() {
		return
	}
	q.mu.Lock()
	q.closed = true
	pending := len(q.items)
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
	q.controller().wake()
	<-q.done

	if pending > 0 {
		q.device.tracker().violation("queue released with %d pending items", pending)
	}
}
