package store

import "time"

// Event is a scheduled happening subscribers receive notifications about.
// Exactly one live orchestrator execution exists per event; WorkflowID names
// it.
type Event struct {
	ID             int64
	Name           string
	Description    string
	Location       string
	StartDate      time.Time
	EndDate        *time.Time
	IsPublic       bool
	OrganizerID    int64
	OrganizationID *int64
	WorkflowID     string
}

// Subscriber is a user that can own channels and subscribe to events. The
// account lifecycle (registration, verification, credentials) is owned by the
// external edge; the core only reads these fields.
type Subscriber struct {
	ID       int64
	Email    string
	Name     string
	Verified bool
}

// Channel is a single delivery endpoint owned by a subscriber or an
// organization. DeliveryURL is decrypted by the gateway on read and must
// never be logged or returned across any external interface.
type Channel struct {
	ID                  int64
	OwnerSubscriberID   *int64
	OwnerOrganizationID *int64
	Name                string
	Tag                 string
	Active              bool
	DeliveryURL         string
}

// RoutingSelector names either a specific channel or a tag to expand into
// the owner's channels. Exactly one of ChannelID and Tag is set.
type RoutingSelector struct {
	ID        int64
	ChannelID *int64
	Tag       *string
}

// Subscription links a subscriber to an event, together with its routing
// selectors and reminder preferences. The gateway always materializes the
// selectors, offsets, and subscriber eagerly; a Subscription is a plain
// value with no live session behind it.
type Subscription struct {
	ID              int64
	EventID         int64
	SubscriberID    int64
	AutoSubscribed  bool
	Selectors       []RoutingSelector
	ReminderOffsets []int
	Subscriber      Subscriber
}

// UnsubscribeToken is a single-use, expiring token bound to a subscription.
type UnsubscribeToken struct {
	Token          string
	SubscriptionID int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UsedAt         *time.Time
}

// Valid reports whether the token can still be consumed at the given time.
func (t UnsubscribeToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// EventScope restricts the auto-subscription channel query to the event's
// audience: either the personal channels of any subscriber (public events)
// or the channels reachable through an organization (its own channels and
// those of its members).
type EventScope struct {
	Public         bool
	OrganizationID *int64
}

// ScopeOf derives the auto-subscription scope for an event.
func ScopeOf(ev *Event) EventScope {
	if ev.OrganizationID != nil {
		return EventScope{OrganizationID: ev.OrganizationID}
	}
	return EventScope{Public: ev.IsPublic}
}

// ChannelFilter narrows ChannelsForSubscriber results. The zero value selects
// every active channel reachable by the subscriber.
type ChannelFilter struct {
	// IDs restricts to the given channel IDs when non-empty.
	IDs []int64
	// Tag restricts to channels whose tag equals this value
	// (case-insensitive) when non-empty.
	Tag string
	// IncludeInactive lifts the active-only restriction.
	IncludeInactive bool
}

// CreateSubscriptionParams are the inputs for Gateway.CreateSubscription.
type CreateSubscriptionParams struct {
	EventID         int64
	SubscriberID    int64
	Selectors       []RoutingSelector
	ReminderOffsets []int
	AutoSubscribed  bool
}
