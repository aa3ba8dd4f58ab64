// Package tracker keeps the transient switcher index: which source node a
// tracked player is associated with and when they joined it. The index is a
// cache over the participant ledger and is rebuilt from on_source rows on
// startup; authoritative reads always go to the ledger.
package tracker

import (
	"sync"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
)

// Entry associates a tracked player with their source node.
type Entry struct {
	SourceNode string
	JoinedAt   time.Time
}

// Tracker is the in-memory switcher index for the active session.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]Entry)}
}

// Track registers or refreshes a player's source-node association.
func (t *Tracker) Track(playerID, sourceNode string, joinedAt time.Time) {
	if t == nil || playerID == "" || sourceNode == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[playerID] = Entry{SourceNode: sourceNode, JoinedAt: joinedAt.UTC()}
}

// Lookup returns a player's entry and whether one exists.
func (t *Tracker) Lookup(playerID string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[playerID]
	return entry, ok
}

// Remove drops a player's entry after their switch is recorded.
func (t *Tracker) Remove(playerID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, playerID)
}

// Clear empties the index during session teardown.
func (t *Tracker) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry)
}

// Len reports how many players are currently tracked.
func (t *Tracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Rebuild resets the index from on_source ledger rows during recovery.
func (t *Tracker) Rebuild(participants []domain.Participant) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry, len(participants))
	for _, participant := range participants {
		if participant.Status != domain.ParticipantOnSource {
			continue
		}
		entry := Entry{SourceNode: participant.SourceNode}
		if participant.SourceJoinedAt != nil {
			entry.JoinedAt = participant.SourceJoinedAt.UTC()
		}
		t.entries[participant.PlayerID] = entry
	}
}
