package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimecast/chime/internal/secrets"
)

func newTestGateway(t *testing.T) (*PgGateway, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return New(mock, cipher), mock
}

func TestEventByID(t *testing.T) {
	gw, mock := newTestGateway(t)
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM events WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "description", "location", "start_date", "end_date",
			"is_public", "organizer_id", "organization_id", "workflow_id",
		}).AddRow(int64(1), "Launch", "", "", start, (*time.Time)(nil),
			true, int64(5), (*int64)(nil), "event-1-wf"))
	mock.ExpectCommit()

	ev, err := gw.EventByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Launch", ev.Name)
	assert.Equal(t, "event-1-wf", ev.WorkflowID)
	assert.True(t, ev.StartDate.Equal(start))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventByIDNotFound(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM events WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "description", "location", "start_date", "end_date",
			"is_public", "organizer_id", "organization_id", "workflow_id",
		}))

	_, err := gw.EventByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribersForEventEagerLoads(t *testing.T) {
	gw, mock := newTestGateway(t)
	channelID := int64(3)
	tag := "phone"

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM subscriptions s`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "event_id", "subscriber_id", "auto_subscribed",
			"u_id", "email", "name", "verified",
		}).AddRow(int64(7), int64(1), int64(2), false,
			int64(2), "u@example.com", "U", true))
	mock.ExpectQuery(`FROM routing_selectors`).
		WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"subscription_id", "id", "channel_id", "tag"}).
			AddRow(int64(7), int64(11), &channelID, (*string)(nil)).
			AddRow(int64(7), int64(12), (*int64)(nil), &tag))
	mock.ExpectQuery(`FROM reminder_preferences`).
		WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"subscription_id", "offset_seconds"}).
			AddRow(int64(7), 86400).
			AddRow(int64(7), 3600))
	mock.ExpectCommit()

	subs, err := gw.SubscribersForEvent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "u@example.com", sub.Subscriber.Email)
	require.Len(t, sub.Selectors, 2)
	assert.Equal(t, channelID, *sub.Selectors[0].ChannelID)
	assert.Equal(t, "phone", *sub.Selectors[1].Tag)
	assert.Equal(t, []int{86400, 3600}, sub.ReminderOffsets)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChannelsForSubscriberDecryptsURL(t *testing.T) {
	gw, mock := newTestGateway(t)
	blob, err := gw.cipher.Seal("ntfy://alerts.example.com/launch")
	require.NoError(t, err)
	owner := int64(2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM channels c`).
		WithArgs(int64(2), []int64{3}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_subscriber_id", "owner_organization_id",
			"name", "tag", "active", "delivery_url",
		}).AddRow(int64(3), &owner, (*int64)(nil), "Phone", "phone", true, blob))
	mock.ExpectCommit()

	chans, err := gw.ChannelsForSubscriber(context.Background(), 2, ChannelFilter{IDs: []int64{3}})
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "ntfy://alerts.example.com/launch", chans[0].DeliveryURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubscriptionUpsert(t *testing.T) {
	gw, mock := newTestGateway(t)
	channelID := int64(3)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WithArgs(int64(1), int64(2), true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO routing_selectors`).
		WithArgs(int64(7), &channelID, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO reminder_preferences`).
		WithArgs(int64(7), 86400).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO reminder_preferences`).
		WithArgs(int64(7), 3600).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := gw.CreateSubscription(context.Background(), CreateSubscriptionParams{
		EventID:         1,
		SubscriberID:    2,
		AutoSubscribed:  true,
		Selectors:       []RoutingSelector{{ChannelID: &channelID}},
		ReminderOffsets: []int{86400, 3600},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubscriptionLowercasesSelectorTags(t *testing.T) {
	gw, mock := newTestGateway(t)
	tag := "Phone"
	lowered := "phone"

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WithArgs(int64(1), int64(2), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO routing_selectors`).
		WithArgs(int64(8), (*int64)(nil), &lowered).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err := gw.CreateSubscription(context.Background(), CreateSubscriptionParams{
		EventID:      1,
		SubscriberID: 2,
		Selectors:    []RoutingSelector{{Tag: &tag}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSubscriptionRejectsNegativeOffset(t *testing.T) {
	gw, mock := newTestGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WithArgs(int64(1), int64(2), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectRollback()

	_, err := gw.CreateSubscription(context.Background(), CreateSubscriptionParams{
		EventID:         1,
		SubscriberID:    2,
		ReminderOffsets: []int{-1},
	})
	require.Error(t, err)
}

func TestUnsubscribeTokenValidity(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	used := now.Add(-time.Hour)

	fresh := UnsubscribeToken{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, fresh.Valid(now))

	expired := UnsubscribeToken{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Valid(now))

	spent := UnsubscribeToken{ExpiresAt: now.Add(time.Hour), UsedAt: &used}
	assert.False(t, spent.Valid(now))
}

func TestMarkTokenUsed(t *testing.T) {
	gw, mock := newTestGateway(t)
	gw.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE unsubscribe_tokens SET used_at`).
		WithArgs("tok", gw.now().UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, gw.MarkTokenUsed(context.Background(), "tok"))
	require.NoError(t, mock.ExpectationsWereMet())
}
