// Package storetest provides an in-memory store.Gateway for tests that
// exercise the resolver, activities, and enrollment logic without a
// database.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chimecast/chime/internal/store"
)

// Memory is an in-memory Gateway. Zero value is not usable; call NewMemory.
// Methods are safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	Now func() time.Time

	events        map[int64]*store.Event
	subscribers   map[int64]store.Subscriber
	channels      map[int64]store.Channel
	subscriptions map[int64]*store.Subscription
	orgMembers    map[int64][]int64
	tokens        map[string]*store.UnsubscribeToken

	nextSubID   int64
	nextTokenID int64
}

var _ store.Gateway = (*Memory)(nil)

// NewMemory constructs an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		Now:           time.Now,
		events:        map[int64]*store.Event{},
		subscribers:   map[int64]store.Subscriber{},
		channels:      map[int64]store.Channel{},
		subscriptions: map[int64]*store.Subscription{},
		orgMembers:    map[int64][]int64{},
		tokens:        map[string]*store.UnsubscribeToken{},
		nextSubID:     100,
	}
}

// AddEvent seeds an event.
func (m *Memory) AddEvent(ev store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := ev
	m.events[ev.ID] = &cp
}

// AddSubscriber seeds a subscriber.
func (m *Memory) AddSubscriber(s store.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[s.ID] = s
}

// AddChannel seeds a channel. Tags are lower-cased as the real gateway does
// on write.
func (m *Memory) AddChannel(ch store.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch.Tag = strings.ToLower(ch.Tag)
	m.channels[ch.ID] = ch
}

// AddOrganizationMember seeds an org membership.
func (m *Memory) AddOrganizationMember(orgID, subscriberID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgMembers[orgID] = append(m.orgMembers[orgID], subscriberID)
}

// AddSubscription seeds a subscription verbatim (no upsert semantics).
func (m *Memory) AddSubscription(sub store.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscribers[sub.SubscriberID]; ok && sub.Subscriber.ID == 0 {
		sub.Subscriber = s
	}
	cp := sub
	m.subscriptions[sub.ID] = &cp
}

// Subscription returns the stored subscription, or nil.
func (m *Memory) Subscription(id int64) *store.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[id]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (m *Memory) EventByID(_ context.Context, id int64) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) EventByWorkflowID(_ context.Context, workflowID string) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.WorkflowID == workflowID {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) SubscribersForEvent(_ context.Context, eventID int64) ([]store.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []store.Subscription
	for _, sub := range m.subscriptions {
		if sub.EventID == eventID {
			subs = append(subs, *sub)
		}
	}
	sortSubscriptions(subs)
	return subs, nil
}

func (m *Memory) SubscriptionByID(_ context.Context, id int64) (*store.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) ChannelsForSubscriber(_ context.Context, subscriberID int64, f store.ChannelFilter) ([]store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Channel
	for _, ch := range m.channels {
		if !m.reachable(ch, subscriberID) {
			continue
		}
		if !ch.Active && !f.IncludeInactive {
			continue
		}
		if len(f.IDs) > 0 && !containsID(f.IDs, ch.ID) {
			continue
		}
		if f.Tag != "" && ch.Tag != strings.ToLower(f.Tag) {
			continue
		}
		out = append(out, ch)
	}
	sortChannels(out)
	return out, nil
}

func (m *Memory) ChannelsForEventScope(_ context.Context, autosubTag string, scope store.EventScope) ([]store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag := strings.ToLower(autosubTag)
	var out []store.Channel
	for _, ch := range m.channels {
		if !ch.Active || ch.Tag != tag {
			continue
		}
		switch {
		case scope.OrganizationID != nil:
			org := *scope.OrganizationID
			inOrg := ch.OwnerOrganizationID != nil && *ch.OwnerOrganizationID == org
			if !inOrg && ch.OwnerSubscriberID != nil {
				inOrg = containsID(m.orgMembers[org], *ch.OwnerSubscriberID)
			}
			if !inOrg {
				continue
			}
		case scope.Public:
			if ch.OwnerSubscriberID == nil {
				continue
			}
		default:
			continue
		}
		out = append(out, ch)
	}
	sortChannels(out)
	return out, nil
}

func (m *Memory) OrganizationMembers(_ context.Context, organizationID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.orgMembers[organizationID]...), nil
}

func (m *Memory) CreateSubscription(_ context.Context, p store.CreateSubscriptionParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		if sub.EventID == p.EventID && sub.SubscriberID == p.SubscriberID {
			// Upsert: the real gateway attaches new selectors and offsets
			// to the existing row and keeps auto_subscribed as it is.
			mergeSelectors(sub, p.Selectors)
			mergeOffsets(sub, p.ReminderOffsets)
			return sub.ID, nil
		}
	}
	m.nextSubID++
	sub := &store.Subscription{
		ID:              m.nextSubID,
		EventID:         p.EventID,
		SubscriberID:    p.SubscriberID,
		AutoSubscribed:  p.AutoSubscribed,
		Selectors:       append([]store.RoutingSelector(nil), p.Selectors...),
		ReminderOffsets: append([]int(nil), p.ReminderOffsets...),
		Subscriber:      m.subscribers[p.SubscriberID],
	}
	m.subscriptions[sub.ID] = sub
	return sub.ID, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
	for tok, t := range m.tokens {
		if t.SubscriptionID == id {
			delete(m.tokens, tok)
		}
	}
	return nil
}

func (m *Memory) CreateUnsubscribeToken(_ context.Context, subscriptionID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTokenID++
	now := m.Now().UTC()
	token := fmt.Sprintf("token-%d", m.nextTokenID)
	m.tokens[token] = &store.UnsubscribeToken{
		Token:          token,
		SubscriptionID: subscriptionID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(60 * 24 * time.Hour),
	}
	return token, nil
}

func (m *Memory) UnsubscribeTokenByValue(_ context.Context, token string) (*store.UnsubscribeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) MarkTokenUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok && t.UsedAt == nil {
		now := m.Now().UTC()
		t.UsedAt = &now
	}
	return nil
}

func mergeSelectors(sub *store.Subscription, selectors []store.RoutingSelector) {
	for _, sel := range selectors {
		if !hasSelector(sub.Selectors, sel) {
			sub.Selectors = append(sub.Selectors, sel)
		}
	}
}

func hasSelector(existing []store.RoutingSelector, sel store.RoutingSelector) bool {
	for _, have := range existing {
		if sel.ChannelID != nil && have.ChannelID != nil && *sel.ChannelID == *have.ChannelID {
			return true
		}
		if sel.Tag != nil && have.Tag != nil && strings.EqualFold(*sel.Tag, *have.Tag) {
			return true
		}
	}
	return false
}

func mergeOffsets(sub *store.Subscription, offsets []int) {
	for _, offset := range offsets {
		found := false
		for _, have := range sub.ReminderOffsets {
			if have == offset {
				found = true
				break
			}
		}
		if !found {
			sub.ReminderOffsets = append(sub.ReminderOffsets, offset)
		}
	}
}

func (m *Memory) reachable(ch store.Channel, subscriberID int64) bool {
	if ch.OwnerSubscriberID != nil && *ch.OwnerSubscriberID == subscriberID {
		return true
	}
	if ch.OwnerOrganizationID != nil {
		return containsID(m.orgMembers[*ch.OwnerOrganizationID], subscriberID)
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sortChannels(chans []store.Channel) {
	for i := 1; i < len(chans); i++ {
		for j := i; j > 0 && chans[j].ID < chans[j-1].ID; j-- {
			chans[j], chans[j-1] = chans[j-1], chans[j]
		}
	}
}

func sortSubscriptions(subs []store.Subscription) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j].ID < subs[j-1].ID; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}
