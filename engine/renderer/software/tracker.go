package software

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type ObjectKind string

const (
	KindFactory          ObjectKind = "factory"
	KindAdapter          ObjectKind = "adapter"
	KindDevice           ObjectKind = "device"
	KindQueue            ObjectKind = "queue"
	KindCommandAllocator ObjectKind = "command_allocator"
	KindCommandList      ObjectKind = "command_list"
	KindFence            ObjectKind = "fence"
	KindEvent            ObjectKind = "event"
	KindDescriptorHeap   ObjectKind = "descriptor_heap"
	KindSwapchain        ObjectKind = "swapchain"
	KindImage            ObjectKind = "image"
)

// Tracker accounts for every object the simulated GPU hands out.
type Tracker struct {
	mu             sync.Mutex
	failCreate     map[ObjectKind]int
	live           map[uuid.UUID]ObjectKind
	attempts       map[ObjectKind]int
	created        map[ObjectKind]int
	released       map[ObjectKind]int
	doubleReleases int
	violations     []string
}

func newTracker(failCreate map[ObjectKind]int) *Tracker {
	return &Tracker{
		failCreate: failCreate,
		live:       make(map[uuid.UUID]ObjectKind),
		attempts:   make(map[ObjectKind]int),
		created:    make(map[ObjectKind]int),
		released:   make(map[ObjectKind]int),
	}
}

type handle struct {
	id      uuid.UUID
	kind    ObjectKind
	tracker *Tracker
}

func (t *Tracker) track(kind ObjectKind) (*handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[kind]++
	if n, ok := t.failCreate[kind]; ok && n == t.attempts[kind] {
		return nil, errors.Wrapf(gpu.ErrOutOfMemory, "injected failure creating %s #%d", kind, n)
	}
	t.created[kind]++
	h := &handle{id: uuid.New(), kind: kind, tracker: t}
	t.live[h.id] = kind
	return h, nil
}

// release returns false when the handle was already released.
func (h *handle) release() bool {
	if h == nil {
		return false
	}
	t := h.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[h.id]; !ok {
		t.doubleReleases++
		t.violations = append(t.violations, fmt.Sprintf("%s %s released twice", h.kind, h.id))
		return false
	}
	delete(t.live, h.id)
	t.released[h.kind]++
	return true
}

func (h *handle) alive() bool {
	if h == nil {
		return false
	}
	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	_, ok := h.tracker.live[h.id]
	return ok
}

func (t *Tracker) violation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("simulated gpu: %s", msg)
	t.mu.Lock()
	t.violations = append(t.violations, msg)
	t.mu.Unlock()
}

// Live is the number of objects created and not yet released.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Tracker) LiveOf(kind ObjectKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.live {
		if k == kind {
			n++
		}
	}
	return n
}

// Created counts successful creations of kind.
func (t *Tracker) Created(kind ObjectKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created[kind]
}

func (t *Tracker) Released(kind ObjectKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released[kind]
}

func (t *Tracker) DoubleReleases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doubleReleases
}

// Violations lists every misuse of the simulated GPU observed so far.
func (t *Tracker) Violations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.violations...)
}
