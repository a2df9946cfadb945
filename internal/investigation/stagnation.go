package investigation

// StagnationTracker keeps a fixed-size FIFO window of per-iteration
// "new entities discovered" counts and flags a plateau once a full
// window's worth of discovery stays at or below epsilon.
type StagnationTracker struct {
	window  []int
	size    int
	epsilon int
}

// NewStagnationTracker builds a tracker over a window of size entries.
// Sizes below 1 are clamped to 1; a negative epsilon is clamped to 0.
func NewStagnationTracker(size, epsilon int) *StagnationTracker {
	if size < 1 {
		size = 1
	}
	if epsilon < 0 {
		epsilon = 0
	}
	return &StagnationTracker{size: size, epsilon: epsilon}
}

// Record appends one completed iteration's discovery count, evicting the
// oldest entry once the window is full.
func (t *StagnationTracker) Record(newEntityCount int) {
	t.window = append(t.window, newEntityCount)
	if len(t.window) > t.size {
		t.window = t.window[1:]
	}
}

// IsPlateaued reports a plateau only when the window holds exactly its
// configured number of entries and their sum is at or below epsilon.
// Before the window fills it always returns false: stagnation cannot be
// claimed without a full set of observations.
func (t *StagnationTracker) IsPlateaued() bool {
	if len(t.window) < t.size {
		return false
	}
	sum := 0
	for _, n := range t.window {
		sum += n
	}
	return sum <= t.epsilon
}

// Counts returns a copy of the current window, oldest first.
func (t *StagnationTracker) Counts() []int {
	out := make([]int, len(t.window))
	copy(out, t.window)
	return out
}
