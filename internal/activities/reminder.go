package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/notify"
	"github.com/chimecast/chime/internal/store"
)

// PersonalReminderInput identifies one (event, subscription, offset)
// reminder.
type PersonalReminderInput struct {
	EventID        int64 `json:"event_id"`
	SubscriptionID int64 `json:"subscription_id"`
	OffsetSeconds  int   `json:"offset_seconds"`
}

// SendPersonalReminder delivers the reminder for one subscription. A
// subscription or event deleted since the schedule was created makes this a
// successful no-op; the schedule already fired and there is nothing left to
// notify.
func (a *Activities) SendPersonalReminder(ctx context.Context, in PersonalReminderInput) (BroadcastResult, error) {
	res := BroadcastResult{EventID: in.EventID, Total: 1}

	ev, err := a.gw.EventByID(ctx, in.EventID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info(ctx, log.KV{K: "msg", V: "reminder for deleted event, skipping"},
			log.KV{K: "event_id", V: in.EventID})
		res.Pending++
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("reminder: %w", err)
	}

	sub, err := a.gw.SubscriptionByID(ctx, in.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info(ctx, log.KV{K: "msg", V: "reminder for deleted subscription, skipping"},
			log.KV{K: "event_id", V: in.EventID},
			log.KV{K: "subscription_id", V: in.SubscriptionID})
		res.Pending++
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("reminder: %w", err)
	}

	msg := reminderMessage(ev, in.OffsetSeconds)
	outcome, err := a.deliverToSubscription(ctx, *sub, msg, nil)
	if err != nil {
		return res, err
	}
	switch outcome.Status {
	case StatusDelivered:
		res.Delivered++
	case StatusPending:
		res.Pending++
	default:
		res.Failed++
	}
	res.Outcomes = []SubscriptionOutcome{outcome}
	return res, nil
}

// reminderMessage formats the personal reminder. Location and start time are
// appended when known, matching what subscribers see for broadcasts.
func reminderMessage(ev *store.Event, offsetSeconds int) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s starts in %s", ev.Name, HumanizeOffset(offsetSeconds))
	if ev.Location != "" {
		fmt.Fprintf(&b, "\n\nLocation: %s", ev.Location)
	}
	fmt.Fprintf(&b, "\nTime: %s", ev.StartDate.UTC().Format("2006-01-02 15:04 MST"))
	return notify.Message{
		Title:    fmt.Sprintf("Reminder: %s", ev.Name),
		Body:     b.String(),
		Severity: notify.SeverityWarning,
	}
}

// HumanizeOffset renders an offset as its largest whole unit: "1 day",
// "2 hours", "15 minutes", "45 seconds".
func HumanizeOffset(seconds int) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case seconds >= 86400:
		return plural(seconds/86400, "day")
	case seconds >= 3600:
		return plural(seconds/3600, "hour")
	case seconds >= 60:
		return plural(seconds/60, "minute")
	default:
		return plural(seconds, "second")
	}
}
