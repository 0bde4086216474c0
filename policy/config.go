// Package policy implements C4, the last-line-of-defence policy engine
// (spec.md §4.2): preset + operator-override rule evaluation, rate limits,
// protected resources and the confirmation queue.
package policy

import "time"

// Preset selects the baseline numeric caps (spec.md §4.2).
type Preset string

const (
	PresetConservative Preset = "conservative"
	PresetModerate      Preset = "moderate"
	PresetAggressive    Preset = "aggressive"
)

// PresetCaps are the baseline numeric limits implied by a Preset.
type PresetCaps struct {
	MaxFeeChangePerWindowPct float64
	MaxRebalanceAmount       float64
	MaxActionsPerPeriod      int
	ConfirmationThreshold    int
}

// DefaultPresetCaps returns the baseline caps for a preset. Values are
// illustrative defaults; operators override via Config.
func DefaultPresetCaps(p Preset) PresetCaps {
	switch p {
	case PresetConservative:
		return PresetCaps{MaxFeeChangePerWindowPct: 10, MaxRebalanceAmount: 1_000_000, MaxActionsPerPeriod: 20, ConfirmationThreshold: 4}
	case PresetAggressive:
		return PresetCaps{MaxFeeChangePerWindowPct: 200, MaxRebalanceAmount: 100_000_000, MaxActionsPerPeriod: 500, ConfirmationThreshold: 8}
	case PresetModerate:
		fallthrough
	default:
		return PresetCaps{MaxFeeChangePerWindowPct: 50, MaxRebalanceAmount: 10_000_000, MaxActionsPerPeriod: 100, ConfirmationThreshold: 6}
	}
}

// QuietHours is a daily wall-clock window (UTC, HH:MM) during which only
// monitoring operations are admitted.
type QuietHours struct {
	Enabled bool
	Start   string // "HH:MM"
	End     string // "HH:MM"
}

// Override is a transient operator override with a mandatory expiry.
type Override struct {
	MaxDangerAutoexec int
	ExpiresAt         time.Time
}

// Config enumerates the Policy Engine's configuration options (spec.md
// §4.2's table verbatim).
type Config struct {
	Preset                   Preset
	MaxDangerAutoexec        int
	MaxFeeChangePer24hPct    float64
	MaxRebalanceAmount       float64
	DailySpendCap            float64
	WeeklySpendCap           float64
	PerIssuerDailyCap        float64
	ProtectedResources       map[string]bool
	ForbiddenCounterparties  map[string]bool
	QuietHours               QuietHours
	RateLimitPerSecond       float64
	RateLimitBurst           int
	Override                 *Override
}

// EffectiveMaxDanger returns the active max-danger-autoexec threshold,
// honouring a non-expired Override.
func (c *Config) EffectiveMaxDanger(now time.Time) int {
	if c.Override != nil && now.Before(c.Override.ExpiresAt) {
		return c.Override.MaxDangerAutoexec
	}
	return c.MaxDangerAutoexec
}
