package host

import (
	"container/heap"
	"sync"

	"github.com/chazu/sheep/vm"
)

// Timers schedules completions against a virtual millisecond clock that
// only moves when Advance is called. It implements vm.TimerFacility.
type Timers struct {
	mu    sync.Mutex
	now   int64
	seq   uint64
	queue timerQueue
}

type timer struct {
	at  int64
	seq uint64 // breaks deadline ties in scheduling order
	c   vm.Completion
}

// After schedules c to complete ms milliseconds from now. Non-positive
// delays fire on the next Advance.
func (t *Timers) After(ms int, c vm.Completion) {
	if ms < 0 {
		ms = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	heap.Push(&t.queue, timer{at: t.now + int64(ms), seq: t.seq, c: c})
}

// Advance moves the clock forward by ms and completes every timer that
// came due, in deadline order. It returns how many fired.
func (t *Timers) Advance(ms int) int {
	t.mu.Lock()
	t.now += int64(ms)
	var due []vm.Completion
	for t.queue.Len() > 0 && t.queue[0].at <= t.now {
		due = append(due, heap.Pop(&t.queue).(timer).c)
	}
	t.mu.Unlock()

	for _, c := range due {
		c.Done()
	}
	return len(due)
}

// Now returns the virtual clock in milliseconds.
func (t *Timers) Now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Pending returns the number of scheduled timers.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// NextDeadline returns the clock value of the earliest timer.
func (t *Timers) NextDeadline() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue.Len() == 0 {
		return 0, false
	}
	return t.queue[0].at, true
}

// Clear drops every scheduled timer without firing it.
func (t *Timers) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = nil
}

// timerQueue is a min-heap on (at, seq).
type timerQueue []timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
