package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Asset is one tracked asset. Threshold and TriggerCount override the
// detector defaults when set.
type Asset struct {
	ID           uint64   `yaml:"id"`
	Name         string   `yaml:"name"`
	Threshold    *float64 `yaml:"threshold,omitempty"`
	TriggerCount *int     `yaml:"triggerCount,omitempty"`
}

type assetsFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadAssets reads an asset list such as:
//
//	assets:
//	  - id: 0
//	    name: Lobby lamp
//	  - id: 1
//	    name: Boiler pump
//	    threshold: 85
//	    triggerCount: 5
func LoadAssets(path string) ([]Asset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}
	return ParseAssets(raw)
}

// ParseAssets decodes and checks an asset list document.
func ParseAssets(raw []byte) ([]Asset, error) {
	var f assetsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse assets file: %w", err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("assets file lists no assets")
	}
	seen := make(map[uint64]bool, len(f.Assets))
	for _, a := range f.Assets {
		if seen[a.ID] {
			return nil, fmt.Errorf("asset %d listed twice", a.ID)
		}
		seen[a.ID] = true
		if a.TriggerCount != nil && *a.TriggerCount < 1 {
			return nil, fmt.Errorf("asset %d: triggerCount must be at least 1", a.ID)
		}
	}
	return f.Assets, nil
}

// ParseAssetIDs parses a comma-separated id list such as "0,1,2".
func ParseAssetIDs(s string) ([]Asset, error) {
	var out []Asset
	seen := make(map[uint64]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ASSET_IDS: invalid id %q", part)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Asset{ID: id})
	}
	return out, nil
}
