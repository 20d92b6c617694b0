package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAllowsBurstThenRefills(t *testing.T) {
	w := newWindow(3, time.Second)
	start := time.Unix(1700000000, 0)

	for _, at := range []time.Duration{0, 500 * time.Millisecond, 600 * time.Millisecond} {
		assert.True(t, w.allow(start.Add(at)))
	}
	assert.False(t, w.allow(start.Add(700*time.Millisecond)))

	// The first attempt falls out of the window after a second.
	assert.True(t, w.allow(start.Add(time.Second+time.Millisecond)))
	assert.False(t, w.allow(start.Add(time.Second+2*time.Millisecond)))
}

func TestNilWindowAllowsEverything(t *testing.T) {
	assert.Nil(t, newWindow(0, time.Second))
	assert.Nil(t, newWindow(5, 0))

	var w *window
	for i := 0; i < 100; i++ {
		assert.True(t, w.allow(time.Now()))
	}
}
