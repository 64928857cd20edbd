package core

import (
	"time"

	"github.com/loov/hrtime"
)

type Clock struct {
	startTime time.Duration
	elapsed   time.Duration
	running   bool
}

func NewClock() *Clock {
	return &Clock{}
}

// Updates the provided clock. Should be called just before checking elapsed time.
// Has no effect on non-started clocks.
func (c *Clock) Update() {
	if c.running {
		c.elapsed = hrtime.Since(c.startTime)
	}
}

// Starts the provided clock. Resets elapsed time.
func (c *Clock) Start() {
	c.startTime = hrtime.Now()
	c.elapsed = 0
	c.running = true
}

// Stops the provided clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.running = false
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
