package core

import (
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond == 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / (time.Duration)(cfg.FramesPerSecond)
	}

	pollDelay := cfg.EventPollDelay
	if pollDelay < 1 {
		pollDelay = 1
	}

	return &Time{
		fps:            cfg.FramesPerSecond,
		fpsTicker:      time.NewTicker(interval),
		eventPollDelay: pollDelay,
		eventTicker:    time.NewTicker(time.Duration(pollDelay) * time.Millisecond),
		now:            time.Now,
	}
}

// Time contains all the time services and tickers
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay int
	eventTicker    *time.Ticker

	now       func() time.Time
	lastFrame time.Time
	delta     time.Duration
	frames    uint64
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Tick marks the start of a frame and returns the time since the previous one.
// The first tick returns zero.
func (t *Time) Tick() time.Duration {
	now := t.now()
	if !t.lastFrame.IsZero() {
		t.delta = now.Sub(t.lastFrame)
	}
	t.lastFrame = now
	t.frames++
	return t.delta
}

// Delta is the duration of the last frame
func (t *Time) Delta() time.Duration {
	return t.delta
}

// Frames is the number of ticks so far
func (t *Time) Frames() uint64 {
	return t.frames
}

// Stop releases the tickers
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
