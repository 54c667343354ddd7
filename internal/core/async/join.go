package async

import "sync"

// JoinCounter fires a continuation once, after a set of independent
// operations have all signalled, whatever order they finish in.
type JoinCounter struct {
	mu         sync.Mutex
	expected   int
	completed  int
	fired      bool
	onComplete func()
}

// NewJoinCounter creates a join over expected operations. A join with
// nothing to wait for fires immediately.
func NewJoinCounter(expected int, onComplete func()) *JoinCounter {
	if expected < 0 {
		expected = 0
	}
	j := &JoinCounter{
		expected:   expected,
		onComplete: onComplete,
	}
	if expected == 0 {
		j.fired = true
		j.run()
	}
	return j
}

// Signal records one completed operation. Signals after the join fired are ignored.
func (j *JoinCounter) Signal() {
	j.mu.Lock()
	if j.fired {
		j.mu.Unlock()
		return
	}
	j.completed++
	if j.completed < j.expected {
		j.mu.Unlock()
		return
	}
	j.fired = true
	j.mu.Unlock()

	j.run()
}

// Add registers n more operations on a join that has not fired yet.
// It returns false if the join already fired.
func (j *JoinCounter) Add(n int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fired {
		return false
	}
	j.expected += n
	return true
}

// Fired reports whether the continuation has run.
func (j *JoinCounter) Fired() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fired
}

// Completed returns the number of signals counted so far.
func (j *JoinCounter) Completed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed
}

// Expected returns the number of operations the join waits for.
func (j *JoinCounter) Expected() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.expected
}

func (j *JoinCounter) run() {
	if j.onComplete != nil {
		j.onComplete()
	}
}
