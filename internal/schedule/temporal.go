package schedule

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// TemporalClient implements RuntimeClient over Temporal's schedule store.
// Each schedule fires exactly once, at its calendar instant, and starts one
// reminder workflow run.
type TemporalClient struct {
	client       client.Client
	taskQueue    string
	workflowName string
}

// NewTemporalClient constructs a TemporalClient. workflowName is the
// registered name of the reminder workflow the schedules launch.
func NewTemporalClient(c client.Client, taskQueue, workflowName string) *TemporalClient {
	return &TemporalClient{client: c, taskQueue: taskQueue, workflowName: workflowName}
}

// CreateSchedule registers a single-fire schedule. Translates the runtime's
// duplicate error into ErrExists.
func (t *TemporalClient) CreateSchedule(ctx context.Context, spec Spec) error {
	fireAt := spec.FireAt.UTC()
	_, err := t.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: spec.ID,
		Spec: client.ScheduleSpec{
			Calendars: []client.ScheduleCalendarSpec{{
				Second:     []client.ScheduleRange{{Start: fireAt.Second()}},
				Minute:     []client.ScheduleRange{{Start: fireAt.Minute()}},
				Hour:       []client.ScheduleRange{{Start: fireAt.Hour()}},
				DayOfMonth: []client.ScheduleRange{{Start: fireAt.Day()}},
				Month:      []client.ScheduleRange{{Start: int(fireAt.Month())}},
				Year:       []client.ScheduleRange{{Start: fireAt.Year()}},
			}},
			TimeZoneName: "UTC",
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        fmt.Sprintf("%s-run", spec.ID),
			Workflow:  t.workflowName,
			Args:      []any{spec.EventID, spec.SubscriptionID, spec.OffsetSeconds},
			TaskQueue: t.taskQueue,
		},
	})
	if err != nil {
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
			return ErrExists
		}
		var already *serviceerror.AlreadyExists
		if errors.As(err, &already) {
			return ErrExists
		}
		return err
	}
	return nil
}

// DeleteSchedule removes one schedule by ID. Translates the runtime's
// missing-schedule error into ErrNotFound.
func (t *TemporalClient) DeleteSchedule(ctx context.Context, id string) error {
	handle := t.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ListScheduleIDs pages through every schedule visible in the namespace.
func (t *TemporalClient) ListScheduleIDs(ctx context.Context) ([]string, error) {
	iter, err := t.client.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, err
	}
	var ids []string
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, err
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}
