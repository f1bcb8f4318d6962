package activities

import (
	"context"
	"fmt"

	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/notify"
	"github.com/chimecast/chime/internal/resolve"
	"github.com/chimecast/chime/internal/store"
)

// Subscription-level delivery statuses. Delivery is at-least-once per
// subscription: partial endpoint failure still counts as delivered, and a
// pending subscription (nothing resolved) is not retried.
const (
	StatusDelivered = "delivered"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// BroadcastInput selects the audience and carries the message.
type BroadcastInput struct {
	EventID  int64           `json:"event_id"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Severity notify.Severity `json:"severity"`

	// SubscriptionIDs restricts the audience when non-empty.
	SubscriptionIDs []int64 `json:"subscription_ids,omitempty"`
	// SelectorTagFilter restricts each subscription's tag selectors.
	SelectorTagFilter []string `json:"selector_tag_filter,omitempty"`
}

// SubscriptionOutcome reports delivery for one subscription.
type SubscriptionOutcome struct {
	SubscriptionID int64  `json:"subscription_id"`
	Status         string `json:"status"`
	Endpoints      int    `json:"endpoints"`
	Delivered      int    `json:"delivered"`
	Failed         int    `json:"failed"`
}

// BroadcastResult aggregates one broadcast.
type BroadcastResult struct {
	EventID   int64                 `json:"event_id"`
	Total     int                   `json:"total"`
	Delivered int                   `json:"delivered"`
	Pending   int                   `json:"pending"`
	Failed    int                   `json:"failed"`
	Outcomes  []SubscriptionOutcome `json:"outcomes,omitempty"`
}

// Broadcast fans one message out to the event's subscriptions. Per-endpoint
// failures never abort the remaining subscriptions; re-execution re-delivers
// (idempotent only up to the dispatch library).
func (a *Activities) Broadcast(ctx context.Context, in BroadcastInput) (BroadcastResult, error) {
	subs, err := a.gw.SubscribersForEvent(ctx, in.EventID)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("broadcast: %w", err)
	}
	if len(in.SubscriptionIDs) > 0 {
		subs = filterSubscriptions(subs, in.SubscriptionIDs)
	}

	res := BroadcastResult{EventID: in.EventID, Total: len(subs)}
	msg := notify.Message{Title: in.Title, Body: in.Body, Severity: in.Severity}
	for _, sub := range subs {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		outcome, err := a.deliverToSubscription(ctx, sub, msg, in.SelectorTagFilter)
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
		res.Outcomes = append(res.Outcomes, outcome)
	}

	log.Info(ctx, log.KV{K: "msg", V: "broadcast complete"},
		log.KV{K: "event_id", V: in.EventID},
		log.KV{K: "severity", V: in.Severity},
		log.KV{K: "total", V: res.Total},
		log.KV{K: "delivered", V: res.Delivered},
		log.KV{K: "pending", V: res.Pending},
		log.KV{K: "failed", V: res.Failed})
	return res, nil
}

// deliverToSubscription resolves one subscription and dispatches the message
// to its endpoints.
func (a *Activities) deliverToSubscription(ctx context.Context, sub store.Subscription, msg notify.Message, tagFilter []string) (SubscriptionOutcome, error) {
	outcome := SubscriptionOutcome{SubscriptionID: sub.ID}

	endpoints, err := a.resolver.Resolve(ctx, sub, tagFilter)
	if err != nil {
		return outcome, fmt.Errorf("broadcast: subscription %d: %w", sub.ID, err)
	}
	if len(endpoints) == 0 {
		outcome.Status = StatusPending
		log.Debug(ctx, log.KV{K: "msg", V: "subscription has no resolvable channel"},
			log.KV{K: "subscription_id", V: sub.ID})
		return outcome, nil
	}

	dres, err := a.driver.Deliver(ctx, resolve.URLs(endpoints), msg)
	if err != nil {
		return outcome, err
	}
	outcome.Endpoints = dres.Total
	outcome.Delivered = dres.Success
	outcome.Failed = dres.Failed
	if dres.Success > 0 {
		outcome.Status = StatusDelivered
	} else {
		outcome.Status = StatusFailed
	}
	return outcome, nil
}

func filterSubscriptions(subs []store.Subscription, ids []int64) []store.Subscription {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := subs[:0]
	for _, sub := range subs {
		if want[sub.ID] {
			out = append(out, sub)
		}
	}
	return out
}
