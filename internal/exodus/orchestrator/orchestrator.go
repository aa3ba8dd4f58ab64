// Package orchestrator owns the single active migration session. All
// session-mutating work (roster events, operator commands, the dwell and
// reminder ticks) funnels through one mutex so no two mutations of the
// same session or participant row interleave. The in-memory tracker and
// throttle are caches over the ledgers, rebuilt during recovery.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brchase/exodus/internal/exodus/audit"
	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/render"
	"github.com/brchase/exodus/internal/exodus/reward"
	"github.com/brchase/exodus/internal/exodus/storage"
	"github.com/brchase/exodus/internal/exodus/throttle"
	"github.com/brchase/exodus/internal/exodus/tracker"
	"github.com/brchase/exodus/internal/platform/id"
)

const (
	// DefaultDwellTickInterval drives dwell-minute accrual.
	DefaultDwellTickInterval = time.Minute
	// DefaultReminderInterval drives campaign re-broadcasts.
	DefaultReminderInterval = 5 * time.Minute
	// DefaultLocale is used when no locale is configured.
	DefaultLocale = "en-US"
)

// Config tunes the orchestrator's timers, locale, and broadcast floor.
type Config struct {
	Locale                string
	MinBroadcastOccupancy int
	DwellTickInterval     time.Duration
	ReminderInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	if c.DwellTickInterval <= 0 {
		c.DwellTickInterval = DefaultDwellTickInterval
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = DefaultReminderInterval
	}
	return c
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	cfg          Config
	sessions     storage.SessionStore
	participants storage.ParticipantStore
	feed         RosterFeed
	transport    Transport
	ledger       reward.Ledger
	sink         audit.Sink
	clock        func() time.Time
	newID        func() (string, error)

	mu       sync.Mutex
	active   *domain.Session
	tracker  *tracker.Tracker
	throttle *throttle.Throttle
	renderer *render.Renderer
	engine   *reward.Engine
}

// New wires an orchestrator. A nil sink falls back to audit.Discard.
func New(cfg Config, sessions storage.SessionStore, participants storage.ParticipantStore, feed RosterFeed, transport Transport, ledger reward.Ledger, sink audit.Sink) *Orchestrator {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Orchestrator{
		cfg:          cfg.withDefaults(),
		sessions:     sessions,
		participants: participants,
		feed:         feed,
		transport:    transport,
		ledger:       ledger,
		sink:         sink,
		clock:        time.Now,
		newID:        id.NewID,
	}
}

// SetClock overrides the time source. Intended for tests.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	if clock != nil {
		o.clock = clock
	}
}

// SetIDFunc overrides the session id generator. Intended for tests.
func (o *Orchestrator) SetIDFunc(newID func() (string, error)) {
	if newID != nil {
		o.newID = newID
	}
}

// Run recovers any persisted active session, then consumes roster events
// and drives the periodic ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return fmt.Errorf("recover active session: %w", err)
	}

	dwell := time.NewTicker(o.cfg.DwellTickInterval)
	defer dwell.Stop()
	reminder := time.NewTicker(o.cfg.ReminderInterval)
	defer reminder.Stop()

	events := o.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("roster feed closed")
			}
			o.Handle(ctx, event)
		case <-dwell.C:
			o.DwellTick(ctx)
		case <-reminder.C:
			o.ReminderTick(ctx)
		}
	}
}

// Handle applies one roster event.
func (o *Orchestrator) Handle(ctx context.Context, event RosterEvent) {
	switch event.Kind {
	case EventJoined:
		o.handleJoin(ctx, event)
	case EventLeft:
		o.handleLeave(ctx, event)
	case EventOccupancy:
		o.handleOccupancy(ctx, event)
	default:
		log.Printf("unknown roster event kind=%q node=%s", event.Kind, event.Node)
	}
}

// DwellTick accrues one tick of dwell time for everyone currently on target
// and grants the playtime tier to anyone who crossed the threshold.
func (o *Orchestrator) DwellTick(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return
	}
	session := *o.active

	minutes := int(o.cfg.DwellTickInterval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if _, err := o.participants.AccrueDwell(ctx, session.ID, minutes, o.clock().UTC()); err != nil {
		log.Printf("dwell accrual failed session_id=%s err=%v", session.ID, err)
		return
	}
	if _, err := o.engine.SweepPlaytime(ctx, session); err != nil {
		log.Printf("playtime sweep failed session_id=%s err=%v", session.ID, err)
	}
}

// ReminderTick re-broadcasts the campaign message to qualifying source nodes.
func (o *Orchestrator) ReminderTick(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return
	}
	o.broadcastSourcesLocked(ctx, o.renderer.Reminder(*o.active), true)
}

func (o *Orchestrator) attachLocked(session domain.Session) {
	o.active = &session
	o.tracker = tracker.New()
	o.throttle = throttle.New(o.cfg.MinBroadcastOccupancy, session.TestMode)
	o.renderer = render.New(o.cfg.Locale, session.TestMode)
	o.engine = reward.NewEngine(o.sessions, o.participants, o.ledger, o.transport, o.renderer, o.sink, o.clock)
}

func (o *Orchestrator) detachLocked() {
	o.tracker.Clear()
	o.throttle.Reset()
	o.active = nil
	o.tracker = nil
	o.throttle = nil
	o.renderer = nil
	o.engine = nil
}

// engineFor builds a reward engine for a session that is not the in-memory
// active one, used by reversal operations on finished sessions.
func (o *Orchestrator) engineFor(session domain.Session) *reward.Engine {
	renderer := render.New(o.cfg.Locale, session.TestMode)
	return reward.NewEngine(o.sessions, o.participants, o.ledger, o.transport, renderer, o.sink, o.clock)
}

func (o *Orchestrator) broadcastSourcesLocked(ctx context.Context, text string, qualifyingOnly bool) {
	for _, node := range o.active.SourceNodes {
		if qualifyingOnly && !o.throttle.Qualifies(node) {
			continue
		}
		if err := o.transport.BroadcastText(ctx, node, text); err != nil {
			log.Printf("broadcast failed node=%s err=%v", node, err)
		}
	}
}

func (o *Orchestrator) refreshCountLocked(ctx context.Context) {
	count, err := o.sessions.RefreshParticipantCount(ctx, o.active.ID)
	if err != nil {
		log.Printf("participant recount failed session_id=%s err=%v", o.active.ID, err)
		return
	}
	o.active.ParticipantCount = count
}

func (o *Orchestrator) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := o.sink.Record(ctx, entry); err != nil {
		log.Printf("audit record failed action=%s err=%v", entry.Action, err)
	}
}
