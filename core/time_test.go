package core

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestTimeTick(t *testing.T) {
	c := qt.New(t)
	tm := NewTime(TimeConfiguration{FramesPerSecond: 60, EventPollDelay: 5})
	defer tm.Stop()

	start := time.Unix(100, 0)
	now := start
	tm.now = func() time.Time { return now }

	c.Assert(tm.Tick(), qt.Equals, time.Duration(0))
	now = now.Add(16 * time.Millisecond)
	c.Assert(tm.Tick(), qt.Equals, 16*time.Millisecond)
	now = now.Add(20 * time.Millisecond)
	c.Assert(tm.Tick(), qt.Equals, 20*time.Millisecond)
	c.Assert(tm.Delta(), qt.Equals, 20*time.Millisecond)
	c.Assert(tm.Frames(), qt.Equals, uint64(3))
	c.Assert(tm.Fps(), qt.Equals, 60)
}

func TestTimeUncapped(t *testing.T) {
	c := qt.New(t)
	tm := NewTime(TimeConfiguration{FramesPerSecond: 0})
	defer tm.Stop()

	c.Assert(tm.Fps(), qt.Equals, 0)
	c.Assert(tm.eventPollDelay, qt.Equals, 1)
	select {
	case <-tm.FpsTicker().C:
	case <-time.After(time.Second):
		c.Fatal("uncapped ticker did not fire")
	}
}
