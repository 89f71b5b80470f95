package stream

import "time"

// Clock schedules callbacks. Tests replace it with a simulated clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// task is a one-shot scheduled callback with idempotent cancel.
// A fire that races with cancel or re-arm is rejected by claim because
// every cancel bumps seq. All methods must be called with Client.mu held.
type task struct {
	timer Timer
	seq   uint64
}

func (t *task) arm(clk Clock, d time.Duration, fire func(seq uint64)) {
	t.cancel()
	seq := t.seq
	t.timer = clk.AfterFunc(d, func() { fire(seq) })
}

func (t *task) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

// claim reports whether the fire for seq is still current and disarms the task.
func (t *task) claim(seq uint64) bool {
	if t.timer == nil || seq != t.seq {
		return false
	}
	t.timer = nil
	t.seq++
	return true
}

func (t *task) armed() bool { return t.timer != nil }
