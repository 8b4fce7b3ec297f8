package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// pollSpec is one entry of the poll manifest: which upstream health check
// to poll, and the adaptive bounds to poll it with.
type pollSpec struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Variance float64       `json:"variance"`
}

// UnmarshalJSON accepts duration strings ("30s") for the duration fields,
// matching how the rest of this codebase's JSON configuration reads.
func (p *pollSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string  `json:"name"`
		URL      string  `json:"url"`
		Interval string  `json:"interval"`
		Min      string  `json:"min"`
		Max      string  `json:"max"`
		Variance float64 `json:"variance"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	interval, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("poll %q: invalid interval %q: %w", raw.Name, raw.Interval, err)
	}
	min, err := time.ParseDuration(raw.Min)
	if err != nil {
		return fmt.Errorf("poll %q: invalid min %q: %w", raw.Name, raw.Min, err)
	}
	max, err := time.ParseDuration(raw.Max)
	if err != nil {
		return fmt.Errorf("poll %q: invalid max %q: %w", raw.Name, raw.Max, err)
	}

	p.Name = raw.Name
	p.URL = raw.URL
	p.Interval = interval
	p.Min = min
	p.Max = max
	p.Variance = raw.Variance
	return nil
}

// loadManifest reads and validates the poll manifest at path.
func loadManifest(path string) ([]pollSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}

	var specs []pollSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %q: %w", path, err)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("manifest %q declares no polls", path)
	}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("manifest %q: poll with empty name", path)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("manifest %q: duplicate poll name %q", path, spec.Name)
		}
		seen[spec.Name] = true
		if spec.URL == "" {
			return nil, fmt.Errorf("manifest %q: poll %q has no url", path, spec.Name)
		}
	}

	return specs, nil
}
