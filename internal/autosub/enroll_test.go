package autosub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimecast/chime/internal/store"
	"github.com/chimecast/chime/internal/store/storetest"
)

func ptr[T any](v T) *T { return &v }

func TestEnrollScopedToOrganization(t *testing.T) {
	mem := storetest.NewMemory()
	// Two orgs with identically tagged channels; only org A's member enrolls.
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "a@example.com"})
	mem.AddSubscriber(store.Subscriber{ID: 2, Email: "b@example.com"})
	mem.AddOrganizationMember(10, 1)
	mem.AddOrganizationMember(20, 2)
	mem.AddChannel(store.Channel{ID: 100, OwnerSubscriberID: ptr(int64(1)), Tag: "autosub:critical", Active: true, DeliveryURL: "ntfy://a"})
	mem.AddChannel(store.Channel{ID: 200, OwnerSubscriberID: ptr(int64(2)), Tag: "autosub:critical", Active: true, DeliveryURL: "ntfy://b"})

	ev := &store.Event{ID: 1, Name: "Outage drill", OrganizationID: ptr(int64(10))}
	mem.AddEvent(*ev)

	ids, err := New(mem).Enroll(context.Background(), ev, []string{"critical"})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	sub := mem.Subscription(ids[0])
	require.NotNil(t, sub)
	assert.Equal(t, int64(1), sub.SubscriberID)
	assert.True(t, sub.AutoSubscribed)
	require.Len(t, sub.Selectors, 1)
	assert.Equal(t, int64(100), *sub.Selectors[0].ChannelID)
	assert.Equal(t, DefaultReminderOffsets, sub.ReminderOffsets)

	subs, err := mem.SubscribersForEvent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].SubscriberID)
}

func TestEnrollOrgOwnedChannelEnrollsEveryMember(t *testing.T) {
	mem := storetest.NewMemory()
	for _, id := range []int64{1, 2, 3} {
		mem.AddSubscriber(store.Subscriber{ID: id, Email: "m@example.com"})
		mem.AddOrganizationMember(10, id)
	}
	mem.AddChannel(store.Channel{ID: 100, OwnerOrganizationID: ptr(int64(10)), Tag: "autosub:ops", Active: true, DeliveryURL: "slack://ops"})

	ev := &store.Event{ID: 1, Name: "Maintenance", OrganizationID: ptr(int64(10))}
	mem.AddEvent(*ev)

	ids, err := New(mem).Enroll(context.Background(), ev, []string{"ops"})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestEnrollPublicEventMatchesPersonalChannels(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "a@example.com"})
	mem.AddChannel(store.Channel{ID: 100, OwnerSubscriberID: ptr(int64(1)), Tag: "autosub:meetup", Active: true, DeliveryURL: "ntfy://a"})

	ev := &store.Event{ID: 1, Name: "Meetup", IsPublic: true}
	mem.AddEvent(*ev)

	ids, err := New(mem).Enroll(context.Background(), ev, []string{"Meetup"})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestEnrollNoTagsIsNoop(t *testing.T) {
	mem := storetest.NewMemory()
	ev := &store.Event{ID: 1, Name: "Quiet", IsPublic: true}
	mem.AddEvent(*ev)

	ids, err := New(mem).Enroll(context.Background(), ev, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnrollIgnoresPlainTags(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "a@example.com"})
	// Tag lacks the autosub prefix; it routes deliveries, not enrollment.
	mem.AddChannel(store.Channel{ID: 100, OwnerSubscriberID: ptr(int64(1)), Tag: "critical", Active: true, DeliveryURL: "ntfy://a"})

	ev := &store.Event{ID: 1, Name: "Drill", IsPublic: true}
	mem.AddEvent(*ev)

	ids, err := New(mem).Enroll(context.Background(), ev, []string{"critical"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnrollExistingSubscriptionUntouched(t *testing.T) {
	mem := storetest.NewMemory()
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "a@example.com"})
	mem.AddChannel(store.Channel{ID: 100, OwnerSubscriberID: ptr(int64(1)), Tag: "autosub:ops", Active: true, DeliveryURL: "ntfy://a"})
	mem.AddChannel(store.Channel{ID: 101, OwnerSubscriberID: ptr(int64(1)), Tag: "autosub:oncall", Active: true, DeliveryURL: "gotify://a"})

	ev := &store.Event{ID: 1, Name: "Drill", IsPublic: true}
	mem.AddEvent(*ev)

	// Two matching tags still yield one subscription for the subscriber.
	ids, err := New(mem).Enroll(context.Background(), ev, []string{"ops", "oncall"})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	again, err := New(mem).Enroll(context.Background(), ev, []string{"ops"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, ids[0], again[0])

	subs, err := mem.SubscribersForEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
