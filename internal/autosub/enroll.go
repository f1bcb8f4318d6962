// Package autosub enrolls subscribers into freshly created events by tag.
// A channel tagged "autosub:{t}" opts its owner into every event carrying
// tag {t} within the channel's scope: identical tags in two organizations
// never cross-match because the channel lookup is scoped to the event.
package autosub

import (
	"context"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/store"
)

// TagPrefix marks channels that opt their owner into tag enrollment.
const TagPrefix = "autosub:"

// DefaultReminderOffsets are the reminder preferences given to
// auto-created subscriptions: one day and one hour before start.
var DefaultReminderOffsets = []int{86400, 3600}

// Enroller creates auto-subscriptions for a new event.
type Enroller struct {
	gw store.Gateway
}

// New constructs an Enroller over the storage gateway.
func New(gw store.Gateway) *Enroller {
	return &Enroller{gw: gw}
}

// Enroll matches each event tag against autosub channels in the event's
// scope and creates one subscription per matched subscriber, routed to the
// matching channel. Subscriber-owned channels enroll the owner; an
// organization-owned channel enrolls every member. Existing subscriptions
// are left as they are. Returns the IDs of all touched subscriptions.
func (e *Enroller) Enroll(ctx context.Context, ev *store.Event, tags []string) ([]int64, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	scope := store.ScopeOf(ev)

	var ids []int64
	enrolled := map[int64]bool{} // subscriber IDs already handled
	for _, tag := range tags {
		channels, err := e.gw.ChannelsForEventScope(ctx, TagPrefix+strings.ToLower(tag), scope)
		if err != nil {
			return ids, fmt.Errorf("autosub: tag %q: %w", tag, err)
		}
		for _, ch := range channels {
			switch {
			case ch.OwnerSubscriberID != nil:
				id, err := e.enrollOne(ctx, ev.ID, *ch.OwnerSubscriberID, ch.ID, enrolled)
				if err != nil {
					return ids, err
				}
				if id != 0 {
					ids = append(ids, id)
				}
			case ch.OwnerOrganizationID != nil:
				members, err := e.gw.OrganizationMembers(ctx, *ch.OwnerOrganizationID)
				if err != nil {
					return ids, fmt.Errorf("autosub: org %d: %w", *ch.OwnerOrganizationID, err)
				}
				for _, member := range members {
					id, err := e.enrollOne(ctx, ev.ID, member, ch.ID, enrolled)
					if err != nil {
						return ids, err
					}
					if id != 0 {
						ids = append(ids, id)
					}
				}
			}
		}
	}

	log.Info(ctx, log.KV{K: "msg", V: "auto-subscription enrollment complete"},
		log.KV{K: "event_id", V: ev.ID},
		log.KV{K: "tags", V: strings.Join(tags, ",")},
		log.KV{K: "subscriptions", V: len(ids)})
	return ids, nil
}

func (e *Enroller) enrollOne(ctx context.Context, eventID, subscriberID, channelID int64, enrolled map[int64]bool) (int64, error) {
	if enrolled[subscriberID] {
		return 0, nil
	}
	enrolled[subscriberID] = true
	id, err := e.gw.CreateSubscription(ctx, store.CreateSubscriptionParams{
		EventID:         eventID,
		SubscriberID:    subscriberID,
		AutoSubscribed:  true,
		Selectors:       []store.RoutingSelector{{ChannelID: &channelID}},
		ReminderOffsets: DefaultReminderOffsets,
	})
	if err != nil {
		return 0, fmt.Errorf("autosub: subscriber %d: %w", subscriberID, err)
	}
	return id, nil
}
