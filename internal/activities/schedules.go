package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/store"
)

// SubscriptionSchedulesInput targets one subscription's reminder schedules.
type SubscriptionSchedulesInput struct {
	EventID        int64     `json:"event_id"`
	SubscriptionID int64     `json:"subscription_id"`
	StartDate      time.Time `json:"start_date"`
}

// EventSchedulesInput targets every schedule of one event.
type EventSchedulesInput struct {
	EventID   int64     `json:"event_id"`
	StartDate time.Time `json:"start_date"`
}

// ScheduleMutationResult reports what a schedule activity did.
type ScheduleMutationResult struct {
	EventID int64    `json:"event_id"`
	Created []string `json:"created,omitempty"`
	Deleted int      `json:"deleted,omitempty"`
}

// CreateSubscriptionSchedules registers the subscription's reminder
// schedules against the event start. A subscription deleted between signal
// and execution is logged and ignored.
func (a *Activities) CreateSubscriptionSchedules(ctx context.Context, in SubscriptionSchedulesInput) (ScheduleMutationResult, error) {
	res := ScheduleMutationResult{EventID: in.EventID}

	sub, err := a.gw.SubscriptionByID(ctx, in.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info(ctx, log.KV{K: "msg", V: "subscription gone before scheduling, skipping"},
			log.KV{K: "event_id", V: in.EventID},
			log.KV{K: "subscription_id", V: in.SubscriptionID})
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("schedules: %w", err)
	}

	res.Created, err = a.registry.CreateForSubscription(ctx, in.EventID, in.StartDate, sub.ID, sub.ReminderOffsets)
	if err != nil {
		return res, err
	}
	return res, nil
}

// CreateEventSchedules registers reminder schedules for every subscription
// of the event.
func (a *Activities) CreateEventSchedules(ctx context.Context, in EventSchedulesInput) (ScheduleMutationResult, error) {
	res := ScheduleMutationResult{EventID: in.EventID}

	subs, err := a.gw.SubscribersForEvent(ctx, in.EventID)
	if err != nil {
		return res, fmt.Errorf("schedules: %w", err)
	}
	for _, sub := range subs {
		created, err := a.registry.CreateForSubscription(ctx, in.EventID, in.StartDate, sub.ID, sub.ReminderOffsets)
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, created...)
	}
	log.Info(ctx, log.KV{K: "msg", V: "event schedules created"},
		log.KV{K: "event_id", V: in.EventID},
		log.KV{K: "count", V: len(res.Created)})
	return res, nil
}

// DeleteSubscriptionSchedules removes one subscription's schedules.
func (a *Activities) DeleteSubscriptionSchedules(ctx context.Context, in SubscriptionSchedulesInput) (ScheduleMutationResult, error) {
	res := ScheduleMutationResult{EventID: in.EventID}
	deleted, err := a.registry.DeleteForSubscription(ctx, in.EventID, in.SubscriptionID)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	return res, nil
}

// DeleteEventSchedules removes every schedule of the event.
func (a *Activities) DeleteEventSchedules(ctx context.Context, in EventSchedulesInput) (ScheduleMutationResult, error) {
	res := ScheduleMutationResult{EventID: in.EventID}
	deleted, err := a.registry.DeleteForEvent(ctx, in.EventID)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	log.Info(ctx, log.KV{K: "msg", V: "event schedules deleted"},
		log.KV{K: "event_id", V: in.EventID},
		log.KV{K: "count", V: deleted})
	return res, nil
}
