// Package throttle gates campaign broadcasts by source-node occupancy. The
// cache is a single-writer structure owned by the orchestrator loop and is
// repopulated from roster snapshots after a restart.
package throttle

import "sync"

// DefaultMinOccupancy is the broadcast floor when no override is configured.
const DefaultMinOccupancy = 16

// Throttle caches last-known occupancy per node and decides which nodes
// currently qualify for outbound campaign messages.
type Throttle struct {
	mu           sync.Mutex
	minOccupancy int
	testMode     bool
	occupancy    map[string]int
}

// New returns a throttle with the given broadcast floor. Values below one
// fall back to DefaultMinOccupancy. Test mode bypasses the floor for every
// node the session explicitly lists.
func New(minOccupancy int, testMode bool) *Throttle {
	if minOccupancy < 1 {
		minOccupancy = DefaultMinOccupancy
	}
	return &Throttle{
		minOccupancy: minOccupancy,
		testMode:     testMode,
		occupancy:    make(map[string]int),
	}
}

// Observe records the latest occupancy reading for a node.
func (t *Throttle) Observe(node string, occupancy int) {
	if t == nil || node == "" {
		return
	}
	if occupancy < 0 {
		occupancy = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.occupancy[node] = occupancy
}

// Occupancy returns the cached reading for a node and whether one exists.
func (t *Throttle) Occupancy(node string) (int, bool) {
	if t == nil {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	count, ok := t.occupancy[node]
	return count, ok
}

// Qualifies reports whether a node should receive campaign broadcasts.
// Test-mode sessions qualify every listed node regardless of occupancy.
func (t *Throttle) Qualifies(node string) bool {
	if t == nil {
		return false
	}
	if t.testMode {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupancy[node] >= t.minOccupancy
}

// Reset drops all cached readings during session teardown.
func (t *Throttle) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.occupancy = make(map[string]int)
}
