package resolver

// Options tunes the acceptance rules. Zero fields take the defaults.
type Options struct {
	// MinRetainScore drops candidates scoring below it.
	MinRetainScore float64 `toml:"min_retain_score"`
	// MinMatchScore is the score a candidate needs to be accepted.
	MinMatchScore float64 `toml:"min_match_score"`
	// DisambiguationThreshold is the smallest lead over the runner-up that
	// still counts as a clear winner for full-name queries.
	DisambiguationThreshold float64 `toml:"disambiguation_threshold"`
	// ReducedConfidenceFactor scales the confidence of a close match returned
	// without creating a new person.
	ReducedConfidenceFactor float64 `toml:"reduced_confidence_factor"`
	// FirstNameLead is the lead a bare first-name query needs over the runner-up.
	FirstNameLead float64 `toml:"first_name_lead"`
	// UniquenessBonus is added when a bare first name has a single candidate.
	UniquenessBonus float64 `toml:"uniqueness_bonus"`
	// StrongRelationship is the cached strength (0-100) that breaks first-name ties.
	StrongRelationship float64 `toml:"strong_relationship"`
	// FuzzyThreshold is the similarity at which two names count as the same.
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	// RecentDays is the window for the recent-contact bonus.
	RecentDays int `toml:"recent_days"`
	// DefaultRegion is used to parse phone numbers without a country code.
	DefaultRegion string `toml:"default_region"`
	// AutoAcceptConfidence is the bar a match must reach before its
	// identifiers are folded into the person. Weaker matches wait for a
	// confirmation. Set from the sync configuration.
	AutoAcceptConfidence float64 `toml:"-"`
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinRetainScore:          20,
		MinMatchScore:           40,
		DisambiguationThreshold: 15,
		ReducedConfidenceFactor: 0.7,
		FirstNameLead:           20,
		UniquenessBonus:         15,
		StrongRelationship:      30,
		FuzzyThreshold:          0.85,
		RecentDays:              30,
		DefaultRegion:           "US",
		AutoAcceptConfidence:    0.95,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MinRetainScore == 0 {
		o.MinRetainScore = d.MinRetainScore
	}
	if o.MinMatchScore == 0 {
		o.MinMatchScore = d.MinMatchScore
	}
	if o.DisambiguationThreshold == 0 {
		o.DisambiguationThreshold = d.DisambiguationThreshold
	}
	if o.ReducedConfidenceFactor == 0 {
		o.ReducedConfidenceFactor = d.ReducedConfidenceFactor
	}
	if o.FirstNameLead == 0 {
		o.FirstNameLead = d.FirstNameLead
	}
	if o.UniquenessBonus == 0 {
		o.UniquenessBonus = d.UniquenessBonus
	}
	if o.StrongRelationship == 0 {
		o.StrongRelationship = d.StrongRelationship
	}
	if o.FuzzyThreshold == 0 {
		o.FuzzyThreshold = d.FuzzyThreshold
	}
	if o.RecentDays == 0 {
		o.RecentDays = d.RecentDays
	}
	if o.DefaultRegion == "" {
		o.DefaultRegion = d.DefaultRegion
	}
	if o.AutoAcceptConfidence <= 0 {
		o.AutoAcceptConfidence = d.AutoAcceptConfidence
	}
	return o
}
