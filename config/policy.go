// Policy parameters are split out of the main TOML config into their own
// YAML file, mirroring the teacher audit tool's yaml.v3 config loading
// (tools/audit/main.go) and keeping the compact node config free of the
// Policy Engine's larger, more frequently retuned option set.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hivecore/policy"
)

// policyFile is the on-disk yaml.v3 shape for policy.yaml, mapping directly
// onto policy.Config (spec.md §4.2's table).
type policyFile struct {
	Preset                  string         `yaml:"preset"`
	MaxDangerAutoexec       int            `yaml:"max_danger_autoexec"`
	MaxFeeChangePer24hPct   float64        `yaml:"max_fee_change_24h_pct"`
	MaxRebalanceAmount      float64        `yaml:"max_rebalance_amount"`
	DailySpendCap           float64        `yaml:"daily_spend_cap"`
	WeeklySpendCap          float64        `yaml:"weekly_spend_cap"`
	PerIssuerDailyCap       float64        `yaml:"per_issuer_daily_cap"`
	ProtectedResources      []string       `yaml:"protected_resources"`
	ForbiddenCounterparties []string       `yaml:"forbidden_counterparties"`
	QuietHours              quietHoursFile `yaml:"quiet_hours"`
	RateLimitPerSecond      float64        `yaml:"rate_limit_per_second"`
	RateLimitBurst          int            `yaml:"rate_limit_burst"`
}

type quietHoursFile struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

// LoadPolicy reads policy.yaml at path, creating a default file seeded from
// preset's baseline caps if none exists.
func LoadPolicy(path string, preset policy.Preset) (*policy.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefaultPolicy(path, preset)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return pf.toPolicyConfig(), nil
}

// createDefaultPolicy writes and returns a starter policy.yaml seeded from
// preset's baseline PresetCaps.
func createDefaultPolicy(path string, preset policy.Preset) (*policy.Config, error) {
	caps := policy.DefaultPresetCaps(preset)
	pf := policyFile{
		Preset:                string(preset),
		MaxDangerAutoexec:     5,
		MaxFeeChangePer24hPct: caps.MaxFeeChangePerWindowPct,
		MaxRebalanceAmount:    caps.MaxRebalanceAmount,
		DailySpendCap:         caps.MaxRebalanceAmount * 2,
		WeeklySpendCap:        caps.MaxRebalanceAmount * 10,
		PerIssuerDailyCap:     caps.MaxRebalanceAmount,
		RateLimitPerSecond:    float64(caps.MaxActionsPerPeriod) / 86400,
		RateLimitBurst:        caps.ConfirmationThreshold,
	}

	out, err := yaml.Marshal(pf)
	if err != nil {
		return nil, fmt.Errorf("config: encode default %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return pf.toPolicyConfig(), nil
}

func (pf policyFile) toPolicyConfig() *policy.Config {
	protected := make(map[string]bool, len(pf.ProtectedResources))
	for _, r := range pf.ProtectedResources {
		protected[r] = true
	}
	forbidden := make(map[string]bool, len(pf.ForbiddenCounterparties))
	for _, c := range pf.ForbiddenCounterparties {
		forbidden[c] = true
	}

	return &policy.Config{
		Preset:                  policy.Preset(pf.Preset),
		MaxDangerAutoexec:       pf.MaxDangerAutoexec,
		MaxFeeChangePer24hPct:   pf.MaxFeeChangePer24hPct,
		MaxRebalanceAmount:      pf.MaxRebalanceAmount,
		DailySpendCap:           pf.DailySpendCap,
		WeeklySpendCap:          pf.WeeklySpendCap,
		PerIssuerDailyCap:       pf.PerIssuerDailyCap,
		ProtectedResources:      protected,
		ForbiddenCounterparties: forbidden,
		QuietHours: policy.QuietHours{
			Enabled: pf.QuietHours.Enabled,
			Start:   pf.QuietHours.Start,
			End:     pf.QuietHours.End,
		},
		RateLimitPerSecond: pf.RateLimitPerSecond,
		RateLimitBurst:     pf.RateLimitBurst,
	}
}
