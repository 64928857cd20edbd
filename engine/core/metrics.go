package core

import (
	"time"

	"github.com/spaghettifunk/anima/engine/containers"
)

const AVG_COUNT = 30

// FrameMetrics keeps a rolling average of frame times and counts frames
// presented during the last full second.
type FrameMetrics struct {
	samples     *containers.RingQueue[time.Duration]
	accumulated time.Duration
	frames      int
	fps         float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{samples: containers.NewRingQueue[time.Duration](AVG_COUNT)}
}

// Update records the duration of one frame. It returns true whenever a new
// FPS value became available.
func (m *FrameMetrics) Update(frameTime time.Duration) bool {
	m.samples.Push(frameTime)

	m.frames++
	m.accumulated += frameTime
	if m.accumulated >= time.Second {
		m.fps = float64(m.frames) / m.accumulated.Seconds()
		m.accumulated = 0
		m.frames = 0
		return true
	}
	return false
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// AverageFrameTime is the mean over the last AVG_COUNT frames.
func (m *FrameMetrics) AverageFrameTime() time.Duration {
	n := m.samples.Len()
	if n == 0 {
		return 0
	}
	var total time.Duration
	m.samples.Each(func(d time.Duration) { total += d })
	return total / time.Duration(n)
}
