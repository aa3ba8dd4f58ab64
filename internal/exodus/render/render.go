// Package render produces the localized campaign copy sent to nodes and
// players. All duration values shown to recipients go through the domain
// reward calculus so broadcasts and direct messages agree on formatting.
package render

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/brchase/exodus/internal/exodus/domain"
)

// Message catalog keys. Translations live in messages_*.go files.
const (
	AnnouncementKey       = "exodus.announcement"
	AnnouncementSwitchKey = "exodus.announcement.switch"
	ReminderKey           = "exodus.reminder"
	SwitchConfirmationKey = "exodus.switch_confirmation"
	SeederWelcomeKey      = "exodus.seeder_welcome"
	PlaytimeRewardKey     = "exodus.playtime_reward"
	CompletionRewardKey   = "exodus.completion_reward"
	ClosureKey            = "exodus.closure"
	CancellationKey       = "exodus.cancellation"
	DrillPrefixKey        = "exodus.drill_prefix"
)

// Renderer formats campaign messages for one locale. Test-mode sessions get
// a drill prefix on every message so recipients can tell exercises apart
// from production campaigns.
type Renderer struct {
	printer  *message.Printer
	testMode bool
}

// New returns a renderer for the given locale. Unknown locales fall back to
// English through the x/text matcher.
func New(locale string, testMode bool) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Renderer{printer: message.NewPrinter(tag), testMode: testMode}
}

func (r *Renderer) decorate(text string) string {
	if r.testMode {
		return r.printer.Sprintf(DrillPrefixKey) + text
	}
	return text
}

// Announcement renders the campaign broadcast for a session. A custom
// session message overrides the stock copy but still gets the drill prefix.
func (r *Renderer) Announcement(session domain.Session) string {
	if strings.TrimSpace(session.Message) != "" {
		return r.decorate(session.Message)
	}
	text := r.printer.Sprintf(AnnouncementKey, session.TargetNode)
	if spec := session.RewardFor(domain.TierSwitch); spec != nil {
		text += " " + r.printer.Sprintf(AnnouncementSwitchKey, spec.Label())
	}
	return r.decorate(text)
}

// Reminder renders the periodic re-broadcast.
func (r *Renderer) Reminder(session domain.Session) string {
	return r.decorate(r.printer.Sprintf(ReminderKey, session.TargetNode, session.ParticipantCount))
}

// SwitchConfirmation renders the direct message sent when a switch reward
// lands. With no switch tier configured the reward clause is omitted.
func (r *Renderer) SwitchConfirmation(session domain.Session) string {
	label := ""
	if spec := session.RewardFor(domain.TierSwitch); spec != nil {
		label = spec.Label()
	}
	return r.decorate(r.printer.Sprintf(SwitchConfirmationKey, session.TargetNode, label))
}

// SeederWelcome renders the enrollment message for players already on the
// target node.
func (r *Renderer) SeederWelcome(session domain.Session) string {
	return r.decorate(r.printer.Sprintf(SeederWelcomeKey, session.TargetNode))
}

// PlaytimeReward renders the dwell-tier grant notification.
func (r *Renderer) PlaytimeReward(session domain.Session, dwellMinutes int) string {
	label := ""
	if spec := session.RewardFor(domain.TierPlaytime); spec != nil {
		label = spec.Label()
	}
	return r.decorate(r.printer.Sprintf(PlaytimeRewardKey, domain.FormatMinutes(dwellMinutes), session.TargetNode, label))
}

// CompletionReward renders the completion-tier grant notification.
func (r *Renderer) CompletionReward(session domain.Session) string {
	label := ""
	if spec := session.RewardFor(domain.TierCompletion); spec != nil {
		label = spec.Label()
	}
	return r.decorate(r.printer.Sprintf(CompletionRewardKey, label))
}

// Closure renders the broadcast sent when a session closes.
func (r *Renderer) Closure(session domain.Session) string {
	return r.decorate(r.printer.Sprintf(ClosureKey, session.TargetNode))
}

// Cancellation renders the broadcast sent when a session is cancelled.
func (r *Renderer) Cancellation(session domain.Session) string {
	return r.decorate(r.printer.Sprintf(CancellationKey, session.TargetNode))
}
