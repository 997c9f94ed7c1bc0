// Package scoring computes relationship strength and graph edge weights.
// Both are pure functions of counts; nothing here touches a store.
package scoring

import "math"

// Config holds the windows, weights and multipliers used by the scorer.
type Config struct {
	RecencyWindowDays   float64 `toml:"recency_window_days"`
	FrequencyWindowDays int     `toml:"frequency_window_days"`
	FrequencyTarget     float64 `toml:"frequency_target"`
	KnownSourceTypes    int     `toml:"known_source_types"`

	RecencyWeight   float64 `toml:"recency_weight"`
	FrequencyWeight float64 `toml:"frequency_weight"`
	DiversityWeight float64 `toml:"diversity_weight"`

	EventMultiplier  float64 `toml:"event_multiplier"`
	ThreadMultiplier float64 `toml:"thread_multiplier"`
	DirectMultiplier float64 `toml:"direct_multiplier"`
	GroupMultiplier  float64 `toml:"group_multiplier"`
	ExternalBonus    float64 `toml:"external_bonus"`
}

// DefaultConfig returns the standard scorer settings.
func DefaultConfig() Config {
	return Config{
		RecencyWindowDays:   90,
		FrequencyWindowDays: 90,
		FrequencyTarget:     20,
		KnownSourceTypes:    12,
		RecencyWeight:       0.3,
		FrequencyWeight:     0.4,
		DiversityWeight:     0.3,
		EventMultiplier:     3,
		ThreadMultiplier:    2,
		DirectMultiplier:    2,
		GroupMultiplier:     1,
		ExternalBonus:       5,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RecencyWindowDays <= 0 {
		c.RecencyWindowDays = d.RecencyWindowDays
	}
	if c.FrequencyWindowDays <= 0 {
		c.FrequencyWindowDays = d.FrequencyWindowDays
	}
	if c.FrequencyTarget <= 0 {
		c.FrequencyTarget = d.FrequencyTarget
	}
	if c.KnownSourceTypes <= 0 {
		c.KnownSourceTypes = d.KnownSourceTypes
	}
	if c.RecencyWeight == 0 && c.FrequencyWeight == 0 && c.DiversityWeight == 0 {
		c.RecencyWeight, c.FrequencyWeight, c.DiversityWeight = d.RecencyWeight, d.FrequencyWeight, d.DiversityWeight
	}
	if c.EventMultiplier == 0 && c.ThreadMultiplier == 0 && c.DirectMultiplier == 0 && c.GroupMultiplier == 0 {
		c.EventMultiplier, c.ThreadMultiplier = d.EventMultiplier, d.ThreadMultiplier
		c.DirectMultiplier, c.GroupMultiplier = d.DirectMultiplier, d.GroupMultiplier
	}
	if c.ExternalBonus == 0 {
		c.ExternalBonus = d.ExternalBonus
	}
	return c
}

// History summarizes one person's interactions.
type History struct {
	// HasInteractions is false when the person has no interactions at all.
	HasInteractions      bool
	DaysSinceLast        float64
	InteractionsInWindow int
	DistinctSources      int
}

// Strength returns a value in [0,1]:
//
//	recency   = max(0, 1 - days_since_last / recency_window)
//	frequency = min(1, interactions_in_window / frequency_target)
//	diversity = distinct_sources / known_source_types
//	strength  = w_r*recency + w_f*frequency + w_d*diversity
func Strength(cfg Config, h History) float64 {
	if !h.HasInteractions {
		return 0
	}
	recency := clamp(1 - math.Max(h.DaysSinceLast, 0)/cfg.RecencyWindowDays)
	frequency := clamp(float64(h.InteractionsInWindow) / cfg.FrequencyTarget)
	diversity := clamp(float64(h.DistinctSources) / float64(cfg.KnownSourceTypes))

	s := cfg.RecencyWeight*recency + cfg.FrequencyWeight*frequency + cfg.DiversityWeight*diversity
	return clamp(s)
}

// EdgeCounts are the per-channel co-occurrence counts of a relationship.
type EdgeCounts struct {
	Events         int
	Threads        int
	Direct         int
	Group          int
	LinkedExternal bool
}

// EdgeWeight ranks a relationship. It is unbounded and never used for identity decisions.
func EdgeWeight(cfg Config, c EdgeCounts) float64 {
	w := cfg.EventMultiplier*float64(c.Events) +
		cfg.ThreadMultiplier*float64(c.Threads) +
		cfg.DirectMultiplier*float64(c.Direct) +
		cfg.GroupMultiplier*float64(c.Group)
	if c.LinkedExternal {
		w += cfg.ExternalBonus
	}
	return w
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
