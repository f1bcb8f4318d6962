// Package workflows holds the durable executions: the long-lived event
// lifecycle orchestrator and the short-lived personal reminder task. Workflow
// code is deterministic; every side effect goes through an activity.
package workflows

import (
	"time"

	"github.com/chimecast/chime/internal/notify"
)

// Registered workflow names. Schedules and the edge-facing client refer to
// workflows by these names, never by Go function identity.
const (
	EventLifecycleName   = "EventLifecycle"
	PersonalReminderName = "PersonalReminder"
)

// Signal names accepted by the event lifecycle orchestrator. The edge must
// commit its database writes before emitting any of these; the orchestrator's
// activities re-read state in a fresh transaction.
const (
	SignalParticipantAdded   = "participant_added"
	SignalParticipantRemoved = "participant_removed"
	SignalEventUpdated       = "event_updated"
	SignalCancelEvent        = "cancel_event"
	SignalManualNotification = "manual_notification"
)

// QueryStatus is the orchestrator's status query name.
const QueryStatus = "status"

// ParticipantChange is the payload of participant_added and
// participant_removed.
type ParticipantChange struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// EventUpdate carries the changed fields of an event_updated signal. Nil
// fields are unchanged.
type EventUpdate struct {
	Name      *string    `json:"name,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Location  *string    `json:"location,omitempty"`
}

// ManualNotification is the payload of manual_notification.
type ManualNotification struct {
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Severity notify.Severity `json:"severity"`

	// SubscriptionIDs restricts the audience when non-empty.
	SubscriptionIDs []int64 `json:"subscription_ids,omitempty"`
	// TagFilter restricts each subscription's tag selectors.
	TagFilter []string `json:"tag_filter,omitempty"`
}

// Status is the answer to the status query.
type Status struct {
	EventID          int64     `json:"event_id"`
	Name             string    `json:"name"`
	LastStartDate    time.Time `json:"last_start_date"`
	Cancelled        bool      `json:"cancelled"`
	SignalsProcessed int       `json:"signals_processed"`
}
