// Package schedule manages the durable timer schedules behind personal
// reminders. The Registry is a thin facade over the execution runtime's
// schedule store: it derives canonical schedule IDs, skips reminders whose
// firing instant has passed, and treats "already exists" and "not found" as
// success so every operation is idempotent.
//
// Concurrency: schedule mutations for one event are serialized by the event
// orchestrator; the Registry itself performs no locking.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"
)

// Spec describes one schedule to register: fire once at FireAt and launch
// the reminder task with the decoded triple.
type Spec struct {
	ID             string
	FireAt         time.Time
	EventID        int64
	SubscriptionID int64
	OffsetSeconds  int
}

// Sentinel errors runtime clients translate runtime-specific failures into.
var (
	// ErrExists reports that a schedule with the same ID is already
	// registered. The Registry treats it as success.
	ErrExists = errors.New("schedule: already exists")
	// ErrNotFound reports that no schedule with the ID exists. The
	// Registry treats it as success on delete.
	ErrNotFound = errors.New("schedule: not found")
)

// RuntimeClient is the narrow surface the Registry needs from the durable
// execution runtime.
type RuntimeClient interface {
	CreateSchedule(ctx context.Context, spec Spec) error
	DeleteSchedule(ctx context.Context, id string) error
	ListScheduleIDs(ctx context.Context) ([]string, error)
}

// Registry creates and deletes reminder schedules.
type Registry struct {
	client RuntimeClient
	now    func() time.Time
}

// NewRegistry constructs a Registry over the given runtime client.
func NewRegistry(client RuntimeClient) *Registry {
	return &Registry{client: client, now: time.Now}
}

// CreateForSubscription registers one schedule per offset whose firing
// instant start−offset is strictly in the future. Past offsets are skipped
// silently; existing schedules are left as they are. Returns the IDs of the
// schedules that exist after the call (created or pre-existing).
func (r *Registry) CreateForSubscription(ctx context.Context, eventID int64, start time.Time, subscriptionID int64, offsets []int) ([]string, error) {
	now := r.now()
	var ids []string
	for _, offset := range offsets {
		if offset < 0 {
			return ids, fmt.Errorf("schedule: negative offset %d", offset)
		}
		fireAt := start.Add(-time.Duration(offset) * time.Second)
		if !fireAt.After(now) {
			log.Debug(ctx, log.KV{K: "msg", V: "skipping past reminder"},
				log.KV{K: "event_id", V: eventID},
				log.KV{K: "subscription_id", V: subscriptionID},
				log.KV{K: "offset_seconds", V: offset})
			continue
		}
		spec := Spec{
			ID:             ReminderID(eventID, subscriptionID, offset),
			FireAt:         fireAt,
			EventID:        eventID,
			SubscriptionID: subscriptionID,
			OffsetSeconds:  offset,
		}
		err := r.client.CreateSchedule(ctx, spec)
		switch {
		case err == nil, errors.Is(err, ErrExists):
			ids = append(ids, spec.ID)
		default:
			return ids, fmt.Errorf("schedule: create %s: %w", spec.ID, err)
		}
	}
	return ids, nil
}

// DeleteForSubscription removes every schedule of one subscription.
func (r *Registry) DeleteForSubscription(ctx context.Context, eventID, subscriptionID int64) (int, error) {
	return r.deleteByPrefix(ctx, SubscriptionPrefix(eventID, subscriptionID))
}

// DeleteForEvent removes every schedule of the event, across all
// subscriptions.
func (r *Registry) DeleteForEvent(ctx context.Context, eventID int64) (int, error) {
	return r.deleteByPrefix(ctx, EventPrefix(eventID))
}

func (r *Registry) deleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ids, err := r.client.ListScheduleIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("schedule: list: %w", err)
	}
	deleted := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		// Only touch IDs this registry minted; other schedules may share
		// the runtime namespace.
		if _, _, _, ok := ParseReminderID(id); !ok {
			continue
		}
		err := r.client.DeleteSchedule(ctx, id)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, ErrNotFound):
			// Raced with another delete; fine.
		default:
			return deleted, fmt.Errorf("schedule: delete %s: %w", id, err)
		}
	}
	return deleted, nil
}
