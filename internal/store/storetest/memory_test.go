package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimecast/chime/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestCreateSubscriptionUpsertMergesRelations(t *testing.T) {
	mem := NewMemory()
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "u@example.com"})

	id, err := mem.CreateSubscription(context.Background(), store.CreateSubscriptionParams{
		EventID:         1,
		SubscriberID:    1,
		AutoSubscribed:  false,
		Selectors:       []store.RoutingSelector{{ChannelID: ptr(int64(10))}},
		ReminderOffsets: []int{3600},
	})
	require.NoError(t, err)

	// A second create on the same (event, subscriber) attaches the new
	// selector and offset to the existing row, as the real gateway does.
	again, err := mem.CreateSubscription(context.Background(), store.CreateSubscriptionParams{
		EventID:         1,
		SubscriberID:    1,
		AutoSubscribed:  true,
		Selectors:       []store.RoutingSelector{{ChannelID: ptr(int64(11))}, {Tag: ptr("phone")}},
		ReminderOffsets: []int{3600, 86400},
	})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	sub := mem.Subscription(id)
	require.NotNil(t, sub)
	assert.False(t, sub.AutoSubscribed)
	require.Len(t, sub.Selectors, 3)
	assert.Equal(t, int64(10), *sub.Selectors[0].ChannelID)
	assert.Equal(t, int64(11), *sub.Selectors[1].ChannelID)
	assert.Equal(t, "phone", *sub.Selectors[2].Tag)
	assert.ElementsMatch(t, []int{3600, 86400}, sub.ReminderOffsets)
}

func TestCreateSubscriptionUpsertIsIdempotent(t *testing.T) {
	mem := NewMemory()
	mem.AddSubscriber(store.Subscriber{ID: 1, Email: "u@example.com"})

	params := store.CreateSubscriptionParams{
		EventID:         1,
		SubscriberID:    1,
		Selectors:       []store.RoutingSelector{{ChannelID: ptr(int64(10))}, {Tag: ptr("phone")}},
		ReminderOffsets: []int{3600},
	}
	id, err := mem.CreateSubscription(context.Background(), params)
	require.NoError(t, err)
	_, err = mem.CreateSubscription(context.Background(), params)
	require.NoError(t, err)

	sub := mem.Subscription(id)
	require.NotNil(t, sub)
	assert.Len(t, sub.Selectors, 2)
	assert.Equal(t, []int{3600}, sub.ReminderOffsets)
}
