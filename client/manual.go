package client

import (
	"sort"
	"time"
)

// ManualExecutor is a deterministic Executor. Nothing runs until the owner
// calls Drain or Advance, which makes it suitable for embedding the engine
// in a host loop and for tests.
type ManualExecutor struct {
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func NewManualExecutor() *ManualExecutor {
	return &ManualExecutor{now: time.Unix(0, 0)}
}

func (m *ManualExecutor) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

// Async runs work inline and queues its continuation.
func (m *ManualExecutor) Async(work func() func()) {
	if cont := work(); cont != nil {
		m.Post(cont)
	}
}

func (m *ManualExecutor) AfterFunc(d time.Duration, fn func()) func() bool {
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)

	return func() bool {
		if t.stopped {
			return false
		}

		t.stopped = true
		return true
	}
}

// Drain runs queued callbacks, including the ones they queue, until the
// queue is empty.
func (m *ManualExecutor) Drain() {
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order and
// draining the queue after each one.
func (m *ManualExecutor) Advance(d time.Duration) {
	target := m.now.Add(d)
	m.Drain()

	for {
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].at.Equal(m.timers[j].at) {
				return m.timers[i].seq < m.timers[j].seq
			}

			return m.timers[i].at.Before(m.timers[j].at)
		})

		if len(m.timers) == 0 || m.timers[0].at.After(target) {
			break
		}

		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at

		if !t.stopped {
			t.stopped = true
			t.fn()
		}

		m.Drain()
	}

	m.now = target
}

// PendingTimers returns the number of armed timers.
func (m *ManualExecutor) PendingTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}

	return n
}
