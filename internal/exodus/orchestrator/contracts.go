package orchestrator

import "context"

// RosterEventKind discriminates roster feed events.
type RosterEventKind string

const (
	// EventJoined means a player appeared on a node.
	EventJoined RosterEventKind = "joined"
	// EventLeft means a player departed a node.
	EventLeft RosterEventKind = "left"
	// EventOccupancy is a periodic node-wide roster snapshot.
	EventOccupancy RosterEventKind = "occupancy"
)

// RosterEvent is one observation from a remote node's roster feed.
type RosterEvent struct {
	Kind        RosterEventKind
	Node        string
	PlayerID    string
	DisplayName string
	Occupancy   int
	// PlayerIDs carries the full roster on occupancy snapshots.
	PlayerIDs []string
}

// Player is one currently-present player reported by the roster feed.
type Player struct {
	ID          string
	DisplayName string
	Node        string
}

// NodeInfo describes one connected node and its last-known occupancy.
type NodeInfo struct {
	Name      string
	Occupancy int
}

// RosterFeed is the inbound view of the connected node fleet. Events returns
// the merged event stream; the query methods are blocking calls used during
// enrollment and recovery.
type RosterFeed interface {
	Events() <-chan RosterEvent
	// Present returns every currently-present player across connected nodes.
	Present(ctx context.Context) ([]Player, error)
	// Occupancy returns the current occupancy of one node, used as a
	// fallback when no recent snapshot exists.
	Occupancy(ctx context.Context, node string) (int, error)
	// Nodes lists the currently connected nodes.
	Nodes(ctx context.Context) ([]NodeInfo, error)
}

// Transport sends campaign copy to nodes and players. Both calls are best
// effort; the orchestrator logs failures and moves on.
type Transport interface {
	BroadcastText(ctx context.Context, node, text string) error
	DirectMessage(ctx context.Context, node, playerID, text string) error
}
