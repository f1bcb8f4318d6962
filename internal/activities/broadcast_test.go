package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimecast/chime/internal/config"
	"github.com/chimecast/chime/internal/notify"
	"github.com/chimecast/chime/internal/resolve"
	"github.com/chimecast/chime/internal/schedule"
	"github.com/chimecast/chime/internal/store"
	"github.com/chimecast/chime/internal/store/storetest"
)

func ptr[T any](v T) *T { return &v }

// fakeDriver records dispatches and succeeds or fails per URL.
type fakeDriver struct {
	calls  []fakeDispatch
	failAt map[string]bool // URL -> fail
}

type fakeDispatch struct {
	urls []string
	msg  notify.Message
}

func (d *fakeDriver) Deliver(_ context.Context, urls []string, msg notify.Message) (notify.Result, error) {
	d.calls = append(d.calls, fakeDispatch{urls: urls, msg: msg})
	res := notify.Result{Total: len(urls)}
	for _, u := range urls {
		er := notify.EndpointResult{Scheme: notify.Scheme(u)}
		if d.failAt[u] {
			er.Error = "forced failure"
			res.Failed++
		} else {
			er.OK = true
			res.Success++
		}
		res.Endpoints = append(res.Endpoints, er)
	}
	return res, nil
}

type fixture struct {
	mem    *storetest.Memory
	driver *fakeDriver
	acts   *Activities
}

func newFixture(t *testing.T, smtp config.SMTP) *fixture {
	t.Helper()
	mem := storetest.NewMemory()
	driver := &fakeDriver{failAt: map[string]bool{}}
	acts := New(mem, resolve.New(mem, smtp), driver, schedule.NewRegistry(noRuntime{}), Options{})
	return &fixture{mem: mem, driver: driver, acts: acts}
}

// noRuntime panics when reached; broadcast tests never touch schedules.
type noRuntime struct{}

func (noRuntime) CreateSchedule(context.Context, schedule.Spec) error { panic("unexpected") }
func (noRuntime) DeleteSchedule(context.Context, string) error        { panic("unexpected") }
func (noRuntime) ListScheduleIDs(context.Context) ([]string, error)   { panic("unexpected") }

func seedEventWithSubs(f *fixture) {
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	for i, scheme := range []string{"ntfy", "gotify", "discord"} {
		subscriberID := int64(i + 1)
		channelID := int64(10 + i)
		f.mem.AddSubscriber(store.Subscriber{ID: subscriberID, Email: "u@example.com"})
		f.mem.AddChannel(store.Channel{
			ID: channelID, OwnerSubscriberID: ptr(subscriberID),
			Tag: "phone", Active: true,
			DeliveryURL: scheme + "://host/target",
		})
		f.mem.AddSubscription(store.Subscription{
			ID: int64(7 + i), EventID: 1, SubscriberID: subscriberID,
			Selectors: []store.RoutingSelector{{ChannelID: ptr(channelID)}},
		})
	}
}

func TestBroadcastDeliversToAllSubscriptions(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	seedEventWithSubs(f)

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "Updated: Launch", Body: "New time", Severity: notify.SeverityInfo,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Delivered)
	assert.Zero(t, res.Pending)
	assert.Zero(t, res.Failed)
	require.Len(t, f.driver.calls, 3)
	assert.Equal(t, notify.SeverityInfo, f.driver.calls[0].msg.Severity)
}

func TestBroadcastSubsetFilter(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	seedEventWithSubs(f)

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityInfo,
		SubscriptionIDs: []int64{8},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, int64(8), res.Outcomes[0].SubscriptionID)
}

func TestBroadcastCountsPendingNotFailed(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	f.mem.AddSubscriber(store.Subscriber{ID: 1, Email: "nochannels@example.com"})
	f.mem.AddSubscription(store.Subscription{ID: 7, EventID: 1, SubscriberID: 1})

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityInfo,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	assert.Zero(t, res.Failed)
	assert.Empty(t, f.driver.calls)
	assert.Equal(t, StatusPending, res.Outcomes[0].Status)
}

func TestBroadcastPartialEndpointFailureIsDelivered(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	f.mem.AddSubscriber(store.Subscriber{ID: 1, Email: "u@example.com"})
	f.mem.AddChannel(store.Channel{ID: 10, OwnerSubscriberID: ptr(int64(1)), Tag: "a", Active: true, DeliveryURL: "ntfy://ok"})
	f.mem.AddChannel(store.Channel{ID: 11, OwnerSubscriberID: ptr(int64(1)), Tag: "b", Active: true, DeliveryURL: "gotify://down"})
	f.mem.AddSubscription(store.Subscription{
		ID: 7, EventID: 1, SubscriberID: 1,
		Selectors: []store.RoutingSelector{{ChannelID: ptr(int64(10))}, {ChannelID: ptr(int64(11))}},
	})
	f.driver.failAt["gotify://down"] = true

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Zero(t, res.Failed)
	assert.Equal(t, StatusDelivered, res.Outcomes[0].Status)
	assert.Equal(t, 1, res.Outcomes[0].Failed)
}

func TestBroadcastAllEndpointsFailedIsFailed(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	f.mem.AddSubscriber(store.Subscriber{ID: 1, Email: "u@example.com"})
	f.mem.AddChannel(store.Channel{ID: 10, OwnerSubscriberID: ptr(int64(1)), Tag: "a", Active: true, DeliveryURL: "ntfy://down"})
	f.mem.AddSubscription(store.Subscription{
		ID: 7, EventID: 1, SubscriberID: 1,
		Selectors: []store.RoutingSelector{{ChannelID: ptr(int64(10))}},
	})
	f.driver.failAt["ntfy://down"] = true

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityInfo,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
}

func TestBroadcastUsesEmailFallback(t *testing.T) {
	smtp := config.SMTP{Host: "smtp.gmail.com", Port: 587, UnverifiedUser: "svc@gmail.com", UnverifiedPassword: "pw"}
	f := newFixture(t, smtp)
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	f.mem.AddSubscriber(store.Subscriber{ID: 1, Email: "v@example.com", Verified: false})
	f.mem.AddSubscription(store.Subscription{ID: 7, EventID: 1, SubscriberID: 1})

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityInfo,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	require.Len(t, f.driver.calls, 1)
	assert.Equal(t, "smtp", notify.Scheme(f.driver.calls[0].urls[0]))
}

func TestBroadcastTagFilterPerSubscription(t *testing.T) {
	f := newFixture(t, config.SMTP{})
	f.mem.AddEvent(store.Event{ID: 1, Name: "Launch", WorkflowID: "event-1-wf"})
	f.mem.AddSubscriber(store.Subscriber{ID: 1, Email: "u@example.com"})
	f.mem.AddChannel(store.Channel{ID: 10, OwnerSubscriberID: ptr(int64(1)), Tag: "phone", Active: true, DeliveryURL: "ntfy://phone"})
	f.mem.AddChannel(store.Channel{ID: 11, OwnerSubscriberID: ptr(int64(1)), Tag: "desk", Active: true, DeliveryURL: "slack://desk"})
	f.mem.AddSubscription(store.Subscription{
		ID: 7, EventID: 1, SubscriberID: 1,
		Selectors: []store.RoutingSelector{{Tag: ptr("phone")}, {Tag: ptr("desk")}},
	})

	res, err := f.acts.Broadcast(context.Background(), BroadcastInput{
		EventID: 1, Title: "t", Body: "b", Severity: notify.SeverityInfo,
		SelectorTagFilter: []string{"phone"},
	})
	require.NoError(t, err)
	require.Len(t, f.driver.calls, 1)
	assert.Equal(t, []string{"ntfy://phone"}, f.driver.calls[0].urls)
	assert.Equal(t, 1, res.Delivered)
}
