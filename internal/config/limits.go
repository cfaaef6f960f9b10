package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// CategoryLimits caps notifications per UTC day for one subscription tier.
type CategoryLimits struct {
	Reply             int `koanf:"reply"`
	Evidence          int `koanf:"evidence"`
	ObservationWindow int `koanf:"observation_window"`
}

type limitsFile struct {
	Tiers map[string]CategoryLimits `koanf:"tiers"`
}

// DefaultTierLimits returns the built-in per-tier daily limits.
func DefaultTierLimits() map[string]CategoryLimits {
	return map[string]CategoryLimits{
		"free":             {Reply: 5, Evidence: 3, ObservationWindow: 1},
		"event_pass":       {Reply: 20, Evidence: 10, ObservationWindow: 5},
		"evidence_analyst": {Reply: 50, Evidence: 50, ObservationWindow: 10},
	}
}

// LoadTierLimits merges an optional YAML file over the built-in limits:
//
//	tiers:
//	  free:
//	    reply: 10
//	  observatory:
//	    reply: 100
//	    evidence: 100
//	    observation_window: 24
//
// An empty path returns the defaults.
func LoadTierLimits(path string) (map[string]CategoryLimits, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(limitsFile{Tiers: DefaultTierLimits()}, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load default tier limits: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load tier limits from %s: %w", path, err)
		}
	}

	var out limitsFile
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshal tier limits: %w", err)
	}

	for tier, l := range out.Tiers {
		if l.Reply < 0 || l.Evidence < 0 || l.ObservationWindow < 0 {
			return nil, fmt.Errorf("invalid tier limits for %q: limits must not be negative", tier)
		}
	}
	return out.Tiers, nil
}
