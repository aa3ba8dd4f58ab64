// Package fleet provides collaborator implementations for the node fleet.
// The loopback set is a development stand-in: no nodes, logged sends, and
// an in-memory reward ledger. Production deployments supply adapters over
// their own fleet gateway.
package fleet

import (
	"context"
	"log"
	"sync"

	"github.com/brchase/exodus/internal/exodus/orchestrator"
	"github.com/brchase/exodus/internal/exodus/reward"
)

var (
	_ orchestrator.RosterFeed = (*LoopbackFeed)(nil)
	_ orchestrator.Transport  = (*LoopbackTransport)(nil)
	_ reward.Ledger           = (*LoopbackLedger)(nil)
)

// Loopback bundles the development collaborators.
type Loopback struct {
	feed      *LoopbackFeed
	transport *LoopbackTransport
	ledger    *LoopbackLedger
}

// NewLoopback returns a connected loopback set.
func NewLoopback() *Loopback {
	return &Loopback{
		feed:      &LoopbackFeed{events: make(chan orchestrator.RosterEvent, 64)},
		transport: &LoopbackTransport{},
		ledger:    &LoopbackLedger{entries: map[string][]LedgerEntry{}},
	}
}

// Feed returns the loopback roster feed.
func (l *Loopback) Feed() *LoopbackFeed { return l.feed }

// Transport returns the loopback transport.
func (l *Loopback) Transport() *LoopbackTransport { return l.transport }

// Ledger returns the loopback reward ledger.
func (l *Loopback) Ledger() *LoopbackLedger { return l.ledger }

// LoopbackFeed is a roster feed with no connected nodes. Push injects
// events for local experiments.
type LoopbackFeed struct {
	mu      sync.Mutex
	events  chan orchestrator.RosterEvent
	players []orchestrator.Player
	nodes   []orchestrator.NodeInfo
}

// Events implements orchestrator.RosterFeed.
func (f *LoopbackFeed) Events() <-chan orchestrator.RosterEvent { return f.events }

// Present implements orchestrator.RosterFeed.
func (f *LoopbackFeed) Present(context.Context) ([]orchestrator.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Player(nil), f.players...), nil
}

// Occupancy implements orchestrator.RosterFeed.
func (f *LoopbackFeed) Occupancy(_ context.Context, node string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, player := range f.players {
		if player.Node == node {
			count++
		}
	}
	return count, nil
}

// Nodes implements orchestrator.RosterFeed.
func (f *LoopbackFeed) Nodes(context.Context) ([]orchestrator.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.NodeInfo(nil), f.nodes...), nil
}

// Push injects a roster event and mirrors it into the presence state so
// Present and Occupancy stay coherent with the event stream.
func (f *LoopbackFeed) Push(event orchestrator.RosterEvent) {
	f.mu.Lock()
	switch event.Kind {
	case orchestrator.EventJoined:
		f.addPlayerLocked(event)
	case orchestrator.EventLeft:
		f.removePlayerLocked(event)
	}
	f.ensureNodeLocked(event.Node)
	f.mu.Unlock()
	f.events <- event
}

// SetNodes replaces the connected node list.
func (f *LoopbackFeed) SetNodes(nodes []orchestrator.NodeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append([]orchestrator.NodeInfo(nil), nodes...)
}

func (f *LoopbackFeed) addPlayerLocked(event orchestrator.RosterEvent) {
	for i, player := range f.players {
		if player.ID == event.PlayerID {
			f.players[i].Node = event.Node
			return
		}
	}
	f.players = append(f.players, orchestrator.Player{
		ID:          event.PlayerID,
		DisplayName: event.DisplayName,
		Node:        event.Node,
	})
}

func (f *LoopbackFeed) removePlayerLocked(event orchestrator.RosterEvent) {
	for i, player := range f.players {
		if player.ID == event.PlayerID && player.Node == event.Node {
			f.players = append(f.players[:i], f.players[i+1:]...)
			return
		}
	}
}

func (f *LoopbackFeed) ensureNodeLocked(node string) {
	if node == "" {
		return
	}
	for _, known := range f.nodes {
		if known.Name == node {
			return
		}
	}
	f.nodes = append(f.nodes, orchestrator.NodeInfo{Name: node})
}

// LoopbackTransport logs outbound messages instead of delivering them.
type LoopbackTransport struct{}

// BroadcastText implements orchestrator.Transport.
func (LoopbackTransport) BroadcastText(_ context.Context, node, text string) error {
	log.Printf("broadcast node=%s text=%q", node, text)
	return nil
}

// DirectMessage implements orchestrator.Transport.
func (LoopbackTransport) DirectMessage(_ context.Context, node, playerID, text string) error {
	log.Printf("direct message node=%s player_id=%s text=%q", node, playerID, text)
	return nil
}

// LedgerEntry is one in-memory reward grant.
type LedgerEntry struct {
	PlayerID string
	Minutes  int
	Metadata map[string]string
	Revoked  bool
}

// LoopbackLedger keeps grants in memory, keyed by tag.
type LoopbackLedger struct {
	mu      sync.Mutex
	entries map[string][]LedgerEntry
}

// Grant implements reward.Ledger.
func (l *LoopbackLedger) Grant(_ context.Context, playerID string, minutes int, tag string, metadata map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[tag] = append(l.entries[tag], LedgerEntry{
		PlayerID: playerID,
		Minutes:  minutes,
		Metadata: metadata,
	})
	return nil
}

// RevokeByTag implements reward.Ledger.
func (l *LoopbackLedger) RevokeByTag(_ context.Context, tag, _, _ string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	revoked := 0
	for i := range l.entries[tag] {
		if !l.entries[tag][i].Revoked {
			l.entries[tag][i].Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

// RevokeByTagAndIdentity implements reward.Ledger.
func (l *LoopbackLedger) RevokeByTagAndIdentity(_ context.Context, tag, playerID, _, _ string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	revoked := 0
	for i := range l.entries[tag] {
		if l.entries[tag][i].PlayerID == playerID && !l.entries[tag][i].Revoked {
			l.entries[tag][i].Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

// Entries returns a copy of the grants recorded under a tag.
func (l *LoopbackLedger) Entries(tag string) []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerEntry(nil), l.entries[tag]...)
}
