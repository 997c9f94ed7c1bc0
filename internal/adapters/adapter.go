package adapters

import (
	"slices"
	"time"

	"kin-go/internal/kin"
	"kin-go/internal/normalize"
)

// base carries what every adapter shares: identity, the default source
// type, sender exclusion and record acceptance.
type base struct {
	name       string
	phase      int
	sourceType kin.SourceType
	filter     *SenderFilter
	region     string
	logger     kin.Logger
}

func (b *base) Name() string { return b.name }
func (b *base) Phase() int   { return b.phase }

// accept converts a record, applying the default source type, the sender
// filter and the since cursor. Invalid records are logged and skipped.
func (b *base) accept(r Record, since time.Time) (kin.Observation, bool) {
	if r.SourceType == "" {
		r.SourceType = string(b.sourceType)
	}
	obs, dropped, err := r.Observation()
	if err != nil {
		b.logger.Warn("skipping invalid record", "adapter", b.name, "source_id", r.SourceID, "error", err)
		return kin.Observation{}, false
	}
	if len(dropped) > 0 {
		b.logger.Debug("dropped unknown metadata keys", "adapter", b.name, "source_id", obs.SourceID, "keys", dropped)
	}
	if b.filter.Match(obs.ObservedEmail) {
		b.logger.Debug("sender excluded", "adapter", b.name, "source_id", obs.SourceID)
		return kin.Observation{}, false
	}
	if !since.IsZero() && obs.ObservedAt.Before(since) {
		return kin.Observation{}, false
	}
	return obs, true
}

// mentions reports whether obs carries one of p's identifiers.
func (b *base) mentions(obs kin.Observation, p *kin.PersonEntity) bool {
	if email, err := normalize.Email(obs.ObservedEmail); err == nil && email != "" {
		if slices.Contains(p.Emails, email) {
			return true
		}
	}
	if phone, err := normalize.Phone(obs.ObservedPhone, b.region); err == nil && phone != "" {
		if slices.Contains(p.PhoneNumbers, phone) {
			return true
		}
	}
	return false
}
