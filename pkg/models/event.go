package models

import (
	"fmt"
	"time"
)

// Source identifies the system a perceived event originated from.
type Source string

const (
	SourceEmail    Source = "email"
	SourceTeams    Source = "teams"
	SourceCalendar Source = "calendar"
	SourceLinkedIn Source = "linkedin"
	SourceWhatsApp Source = "whatsapp"
	SourceFiles    Source = "files"
	SourceWeb      Source = "web"
)

// EventKind classifies what a perceived event represents.
type EventKind string

const (
	KindMessage      EventKind = "message"
	KindInvite       EventKind = "invite"
	KindNotification EventKind = "notification"
	KindReminder     EventKind = "reminder"
	KindDocument     EventKind = "document"
)

// AgeBucket buckets an event by how long ago it occurred.
type AgeBucket string

const (
	AgeFresh  AgeBucket = "fresh"  // less than 7 days old
	AgeRecent AgeBucket = "recent" // 7 to 30 days old
	AgeOld    AgeBucket = "old"    // more than 30 days old
)

// AgeBucketFor derives the age bucket of an event that occurred at the
// given time, relative to now.
func AgeBucketFor(occurredAt, now time.Time) AgeBucket {
	age := now.Sub(occurredAt)
	switch {
	case age < 7*24*time.Hour:
		return AgeFresh
	case age <= 30*24*time.Hour:
		return AgeRecent
	default:
		return AgeOld
	}
}

// ParticipantRole is the role a party plays on an event.
type ParticipantRole string

const (
	RoleFrom    ParticipantRole = "from"
	RoleTo      ParticipantRole = "to"
	RoleCC      ParticipantRole = "cc"
	RoleMention ParticipantRole = "mention"
)

// Participant is one party on a perceived event.
type Participant struct {
	Identity    string          `json:"identity"`
	DisplayName string          `json:"display_name,omitempty"`
	Role        ParticipantRole `json:"role"`
}

// EntityType classifies a structured entity extracted from event content.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityOrg     EntityType = "org"
	EntityProject EntityType = "project"
	EntityDate    EntityType = "date"
	EntityAmount  EntityType = "amount"
)

// Entity is a typed value recognized inside event content.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

// Attachment describes a file attached to an event. Content stays at the
// source; only the descriptor travels with the event.
type Attachment struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// PerceivedEvent is the canonical unit of incoming information, independent
// of source. Immutable after normalization: re-normalizing the same source
// record must yield a byte-identical event.
type PerceivedEvent struct {
	EventID         string        `json:"event_id"`
	Source          Source        `json:"source"`
	SourceID        string        `json:"source_id"`
	Kind            EventKind     `json:"kind"`
	OccurredAt      time.Time     `json:"occurred_at"`
	IngestedAt      time.Time     `json:"ingested_at"`
	ThreadID        string        `json:"thread_id,omitempty"`
	Participants    []Participant `json:"participants,omitempty"`
	Subject         string        `json:"subject,omitempty"`
	BodyPlain       string        `json:"body_plain"`
	BodyRich        string        `json:"body_rich,omitempty"`
	Attachments     []Attachment  `json:"attachments,omitempty"`
	Entities        []Entity      `json:"entities,omitempty"`
	ImportancePrior float64       `json:"importance_prior"`
}

// EventIDFor derives the stable event identifier from the source and the
// source-native record identifier. Stable across re-fetches of the same
// record.
func EventIDFor(source Source, canonicalSourceID string) string {
	return fmt.Sprintf("%s:%s", source, canonicalSourceID)
}

// AgeBucket returns the event's age bucket relative to now.
func (e *PerceivedEvent) AgeBucket(now time.Time) AgeBucket {
	return AgeBucketFor(e.OccurredAt, now)
}

// Sender returns the identity of the first participant with the "from"
// role, or empty when the event has no sender.
func (e *PerceivedEvent) Sender() string {
	for _, p := range e.Participants {
		if p.Role == RoleFrom {
			return p.Identity
		}
	}
	return ""
}

// AnalysisStatus tracks a perceived event through the analysis backlog.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisErrored    AnalysisStatus = "errored"
)
