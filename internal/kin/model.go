package kin

import (
	"slices"
	"time"
)

// SourceType identifies the channel an observation came from.
type SourceType string

const (
	SourceEmail         SourceType = "email"
	SourceCalendar      SourceType = "calendar"
	SourceChat          SourceType = "chat"
	SourceSMS           SourceType = "sms"
	SourceIMessage      SourceType = "imessage"
	SourceWhatsApp      SourceType = "whatsapp"
	SourceSlack         SourceType = "slack"
	SourceCall          SourceType = "call"
	SourceContactExport SourceType = "contact-export"
	SourceSocial        SourceType = "social"
	SourceLinkedIn      SourceType = "linkedin"
	SourceNoteMention   SourceType = "note-mention"
)

// KnownSourceTypes lists every source type the registry understands.
// Its length is the denominator of the diversity term in relationship strength.
var KnownSourceTypes = []SourceType{
	SourceEmail, SourceCalendar, SourceChat, SourceSMS, SourceIMessage, SourceWhatsApp,
	SourceSlack, SourceCall, SourceContactExport, SourceSocial, SourceLinkedIn, SourceNoteMention,
}

// IsKnown reports whether t is one of KnownSourceTypes.
func (t SourceType) IsKnown() bool {
	return slices.Contains(KnownSourceTypes, t)
}

// Metadata keys recognized on observations. Adapters validate them per source type.
const (
	MetaTitle          = "title"
	MetaSnippet        = "snippet"
	MetaLink           = "link"
	MetaThreadID       = "thread_id"
	MetaEventID        = "event_id"
	MetaConversationID = "conversation_id"
	MetaGroupID        = "group_id"
	MetaChannel        = "channel" // "direct" or "group"
	MetaCompany        = "company"
	MetaCategory       = "category"
	MetaConnection     = "connection" // "true" when the observation is an external professional connection
	MetaPeerEmail      = "peer_email"
)

// Observation is one raw sighting of a person emitted by an adapter.
type Observation struct {
	SourceType    SourceType        `json:"source_type"`
	SourceID      string            `json:"source_id"`
	ObservedName  string            `json:"observed_name,omitempty"`
	ObservedEmail string            `json:"observed_email,omitempty"`
	ObservedPhone string            `json:"observed_phone,omitempty"`
	ContextPath   string            `json:"context_path,omitempty"`
	ObservedAt    time.Time         `json:"observed_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// LinkStatus is the resolution state of a SourceEntity.
type LinkStatus string

const (
	LinkAuto      LinkStatus = "auto"
	LinkConfirmed LinkStatus = "confirmed"
	LinkRejected  LinkStatus = "rejected"
	// LinkUnlinked marks an observation held for confirmation or orphaned.
	LinkUnlinked LinkStatus = "unlinked"
)

// SourceEntity is the persisted form of an Observation plus its link to a person.
// Only the link fields ever change after creation.
type SourceEntity struct {
	ID                string            `json:"id"`
	SourceType        SourceType        `json:"source_type"`
	SourceID          string            `json:"source_id"`
	ObservedName      string            `json:"observed_name,omitempty"`
	ObservedEmail     string            `json:"observed_email,omitempty"`
	ObservedPhone     string            `json:"observed_phone,omitempty"`
	ContextPath       string            `json:"context_path,omitempty"`
	ObservedAt        time.Time         `json:"observed_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CanonicalPersonID string            `json:"canonical_person_id,omitempty"`
	LinkConfidence    float64           `json:"link_confidence"`
	LinkStatus        LinkStatus        `json:"link_status"`
	LinkedAt          *time.Time        `json:"linked_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Observation returns the observed fields of the entity.
func (e *SourceEntity) Observation() Observation {
	return Observation{
		SourceType:    e.SourceType,
		SourceID:      e.SourceID,
		ObservedName:  e.ObservedName,
		ObservedEmail: e.ObservedEmail,
		ObservedPhone: e.ObservedPhone,
		ContextPath:   e.ContextPath,
		ObservedAt:    e.ObservedAt,
		Metadata:      e.Metadata,
	}
}

// Linked reports whether the entity currently points at a person.
func (e *SourceEntity) Linked() bool {
	return e.CanonicalPersonID != ""
}

// SourceLink carries the mutable link fields of a SourceEntity.
type SourceLink struct {
	PersonID   string
	Confidence float64
	Status     LinkStatus
	LinkedAt   *time.Time
}

// Category classifies a person.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryFamily   Category = "family"
	CategoryUnknown  Category = "unknown"
)

// ParseCategory maps free text to a Category, defaulting to unknown.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryWork, CategoryPersonal, CategoryFamily:
		return Category(s)
	}
	return CategoryUnknown
}

// PersonEntity is the canonical record of one real individual.
type PersonEntity struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	DisplayName   string   `json:"display_name"`
	Emails        []string `json:"emails"`
	PhoneNumbers  []string `json:"phone_numbers"`
	Aliases       []string `json:"aliases"`
	Company       string   `json:"company,omitempty"`
	Category      Category `json:"category"`
	ContextTags   []string `json:"context_tags"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	EmailCount   int `json:"email_count"`
	MeetingCount int `json:"meeting_count"`
	MentionCount int `json:"mention_count"`
	MessageCount int `json:"message_count"`

	// RelationshipStrength is the cached scorer output on a 0-100 scale. Derived state.
	RelationshipStrength float64 `json:"relationship_strength"`
	// ConfidenceScore is the mean link confidence of the observations linked to this person.
	ConfidenceScore float64 `json:"confidence_score"`
	// SourceCount is the number of observations linked to this person.
	SourceCount int `json:"source_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Stores hand out clones so callers never share slices.
func (p *PersonEntity) Clone() *PersonEntity {
	if p == nil {
		return nil
	}
	c := *p
	c.Emails = slices.Clone(p.Emails)
	c.PhoneNumbers = slices.Clone(p.PhoneNumbers)
	c.Aliases = slices.Clone(p.Aliases)
	c.ContextTags = slices.Clone(p.ContextTags)
	return &c
}

// TotalInteractions sums the per-channel counters.
func (p *PersonEntity) TotalInteractions() int {
	return p.EmailCount + p.MeetingCount + p.MentionCount + p.MessageCount
}

// Interaction is a lightweight touchpoint: metadata and a link back, never content.
type Interaction struct {
	ID         string     `json:"id" db:"id"`
	PersonID   string     `json:"person_id" db:"person_id"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	SourceType SourceType `json:"source_type" db:"source_type"`
	Title      string     `json:"title" db:"title"`
	Snippet    string     `json:"snippet,omitempty" db:"snippet"`
	SourceLink string     `json:"source_link,omitempty" db:"source_link"`
	SourceID   string     `json:"source_id" db:"source_id"`
}

// RelationshipType classifies an edge.
type RelationshipType string

const (
	RelationshipFriend   RelationshipType = "friend"
	RelationshipFamily   RelationshipType = "family"
	RelationshipCoworker RelationshipType = "coworker"
	RelationshipInferred RelationshipType = "inferred"
)

// Relationship is an undirected edge keyed by PersonAID < PersonBID.
type Relationship struct {
	PersonAID                string           `json:"person_a_id"`
	PersonBID                string           `json:"person_b_id"`
	RelationshipType         RelationshipType `json:"relationship_type"`
	SharedContexts           []string         `json:"shared_contexts"`
	SharedEventsCount        int              `json:"shared_events_count"`
	SharedThreadsCount       int              `json:"shared_threads_count"`
	SharedMessagesCount      int              `json:"shared_messages_count"`
	SharedGroupMessagesCount int              `json:"shared_group_messages_count"`
	IsLinkedExternal         bool             `json:"is_linked_external"`
	FirstSeenTogether        time.Time        `json:"first_seen_together"`
	LastSeenTogether         time.Time        `json:"last_seen_together"`
	EdgeWeight               float64          `json:"edge_weight"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// OrderedPair returns a and b with the smaller ID first.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PendingReason records why a link was held for review.
type PendingReason string

const (
	PendingNewEntity  PendingReason = "new_entity"
	PendingEmailMatch PendingReason = "email_match"
	PendingPhoneMatch PendingReason = "phone_match"
	PendingNameMatch  PendingReason = "name_match"
)

// PendingStatus is the state of a PendingLink. confirmed and rejected are terminal.
type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingConfirmed PendingStatus = "confirmed"
	PendingRejected  PendingStatus = "rejected"
)

// PendingLink is a resolver decision awaiting human review.
type PendingLink struct {
	ID                  string        `json:"id"`
	SourceEntityID      string        `json:"source_entity_id"`
	PreviousCanonicalID string        `json:"previous_canonical_id,omitempty"`
	ProposedCanonicalID string        `json:"proposed_canonical_id"`
	Reason              PendingReason `json:"reason"`
	Confidence          float64       `json:"confidence"`
	Status              PendingStatus `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	ResolvedAt          *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy          string        `json:"resolved_by,omitempty"`
}

// Sync run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// SyncRun is one recorded orchestrator operation.
type SyncRun struct {
	ID         int64      `json:"id"`
	Operation  string     `json:"operation"`
	Parameters string     `json:"parameters,omitempty"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Pending    int        `json:"pending"`
	Errors     int        `json:"errors"`
}

// StoreStats aggregates counts from the relational stores.
type StoreStats struct {
	SourceEntities       int                `json:"source_entities"`
	UnlinkedSources      int                `json:"unlinked_sources"`
	Interactions         int                `json:"interactions"`
	InteractionsBySource map[SourceType]int `json:"interactions_by_source"`
	Relationships        int                `json:"relationships"`
	PendingLinks         int                `json:"pending_links"`
}
