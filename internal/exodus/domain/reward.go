package domain

import "fmt"

// RewardUnit is the unit a reward duration is configured in.
type RewardUnit string

const (
	// UnitMinutes configures a reward in minutes.
	UnitMinutes RewardUnit = "minutes"
	// UnitHours configures a reward in hours.
	UnitHours RewardUnit = "hours"
	// UnitDays configures a reward in days.
	UnitDays RewardUnit = "days"
	// UnitMonths configures a reward in months. A month is a fixed 30-day
	// block for duration and display purposes.
	UnitMonths RewardUnit = "months"
)

const (
	minutesPerHour  = 60
	minutesPerDay   = 24 * minutesPerHour
	minutesPerMonth = 30 * minutesPerDay
)

// Tier is one independently configured reward category.
type Tier string

const (
	// TierSwitch is granted the instant a tracked participant appears on target.
	TierSwitch Tier = "switch"
	// TierPlaytime is granted once a participant accumulates the session's
	// dwell-minute threshold on target.
	TierPlaytime Tier = "playtime"
	// TierCompletion is granted to still-eligible participants when the
	// session closes successfully.
	TierCompletion Tier = "completion"
)

// Tiers lists every reward tier in grant order.
func Tiers() []Tier {
	return []Tier{TierSwitch, TierPlaytime, TierCompletion}
}

// RewardSpec is one configured reward amount.
type RewardSpec struct {
	Value int
	Unit  RewardUnit
}

// Validate checks the spec holds a positive value in a known unit.
func (r RewardSpec) Validate() error {
	if r.Value <= 0 {
		return ErrRewardValueInvalid
	}
	switch r.Unit {
	case UnitMinutes, UnitHours, UnitDays, UnitMonths:
		return nil
	default:
		return ErrInvalidRewardUnit
	}
}

// Minutes converts the spec into its canonical minute count.
func (r RewardSpec) Minutes() int {
	switch r.Unit {
	case UnitHours:
		return r.Value * minutesPerHour
	case UnitDays:
		return r.Value * minutesPerDay
	case UnitMonths:
		return r.Value * minutesPerMonth
	default:
		return r.Value
	}
}

// Label renders the spec's canonical duration for humans.
func (r RewardSpec) Label() string {
	return FormatMinutes(r.Minutes())
}

// FormatMinutes renders a minute count using the coarsest unit that keeps
// the displayed number at or above one, rounded to one decimal place when
// not integral. It is the single source of truth for durations shown to
// participants and operators.
func FormatMinutes(minutes int) string {
	if minutes <= 0 {
		return "0min"
	}
	units := []struct {
		size   int
		suffix string
	}{
		{minutesPerMonth, "mo"},
		{minutesPerDay, "d"},
		{minutesPerHour, "hr"},
		{1, "min"},
	}
	for _, unit := range units {
		if minutes < unit.size {
			continue
		}
		if minutes%unit.size == 0 {
			return fmt.Sprintf("%d%s", minutes/unit.size, unit.suffix)
		}
		value := float64(minutes) / float64(unit.size)
		return fmt.Sprintf("%.1f%s", value, unit.suffix)
	}
	return fmt.Sprintf("%dmin", minutes)
}
