package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/chimecast/chime/internal/activities"
	"github.com/chimecast/chime/internal/notify"
)

// Activity names, matching the method names of activities.Activities.
const (
	activityGetEvent                    = "GetEvent"
	activityBroadcast                   = "Broadcast"
	activitySendPersonalReminder        = "SendPersonalReminder"
	activityCreateEventSchedules        = "CreateEventSchedules"
	activityCreateSubscriptionSchedules = "CreateSubscriptionSchedules"
	activityDeleteEventSchedules        = "DeleteEventSchedules"
	activityDeleteSubscriptionSchedules = "DeleteSubscriptionSchedules"
)

// expiryGrace keeps the orchestrator alive past start for events without an
// end date, so late updates and cancellations still land.
const expiryGrace = 24 * time.Hour

var retryPolicy = &temporal.RetryPolicy{
	InitialInterval:    time.Second,
	BackoffCoefficient: 2,
	MaximumAttempts:    3,
}

var (
	validationOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         retryPolicy,
	}
	scheduleOptions = workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         retryPolicy,
	}
	deliveryOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         retryPolicy,
	}
)

// EventLifecycle is the per-event orchestrator. It validates the event,
// registers its reminder schedules, then serializes mutation signals until
// cancellation or natural expiry. Schedule failures after retry exhaustion
// are logged and do not terminate the orchestrator.
func EventLifecycle(ctx workflow.Context, eventID int64) error {
	logger := workflow.GetLogger(ctx)

	vctx := workflow.WithActivityOptions(ctx, validationOptions)
	var details activities.EventDetails
	if err := workflow.ExecuteActivity(vctx, activityGetEvent, eventID).Get(ctx, &details); err != nil {
		return err
	}
	if !details.Found {
		logger.Info("event not found, terminating", "event_id", eventID)
		return nil
	}

	state := Status{EventID: eventID, Name: details.Name, LastStartDate: details.StartDate}
	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (Status, error) {
		return state, nil
	}); err != nil {
		return err
	}

	sctx := workflow.WithActivityOptions(ctx, scheduleOptions)
	dctx := workflow.WithActivityOptions(ctx, deliveryOptions)

	var created activities.ScheduleMutationResult
	err := workflow.ExecuteActivity(sctx, activityCreateEventSchedules,
		activities.EventSchedulesInput{EventID: eventID, StartDate: state.LastStartDate}).Get(ctx, &created)
	if err != nil {
		logger.Error("initial schedule creation failed", "event_id", eventID, "error", err)
	}

	addedCh := workflow.GetSignalChannel(ctx, SignalParticipantAdded)
	removedCh := workflow.GetSignalChannel(ctx, SignalParticipantRemoved)
	updatedCh := workflow.GetSignalChannel(ctx, SignalEventUpdated)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancelEvent)
	manualCh := workflow.GetSignalChannel(ctx, SignalManualNotification)

	for {
		var (
			added   *ParticipantChange
			removed *ParticipantChange
			update  *EventUpdate
			manual  *ManualNotification
			cancel  bool
			expired bool
		)

		timerCtx, stopTimer := workflow.WithCancel(ctx)
		timer := workflow.NewTimer(timerCtx, lifetimeDeadline(details, state.LastStartDate).Sub(workflow.Now(ctx)))

		sel := workflow.NewSelector(ctx)
		sel.AddFuture(timer, func(workflow.Future) { expired = true })
		sel.AddReceive(addedCh, func(c workflow.ReceiveChannel, _ bool) {
			var p ParticipantChange
			c.Receive(ctx, &p)
			added = &p
		})
		sel.AddReceive(removedCh, func(c workflow.ReceiveChannel, _ bool) {
			var p ParticipantChange
			c.Receive(ctx, &p)
			removed = &p
		})
		sel.AddReceive(updatedCh, func(c workflow.ReceiveChannel, _ bool) {
			var p EventUpdate
			c.Receive(ctx, &p)
			update = &p
		})
		sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, nil)
			cancel = true
		})
		sel.AddReceive(manualCh, func(c workflow.ReceiveChannel, _ bool) {
			var p ManualNotification
			c.Receive(ctx, &p)
			manual = &p
		})
		sel.Select(ctx)
		stopTimer()

		switch {
		case expired:
			logger.Info("event expired, cleaning up", "event_id", eventID)
			return deleteAllSchedules(sctx, ctx, eventID)

		case cancel:
			state.Cancelled = true
			state.SignalsProcessed++
			broadcast(dctx, ctx, activities.BroadcastInput{
				EventID:  eventID,
				Title:    fmt.Sprintf("Cancelled: %s", state.Name),
				Body:     fmt.Sprintf("%s has been cancelled.", state.Name),
				Severity: notify.SeverityCritical,
			})
			return deleteAllSchedules(sctx, ctx, eventID)

		case added != nil:
			state.SignalsProcessed++
			if added.SubscriptionID == 0 {
				logger.Info("participant_added without subscription id, dropping")
				continue
			}
			var res activities.ScheduleMutationResult
			err := workflow.ExecuteActivity(sctx, activityCreateSubscriptionSchedules,
				activities.SubscriptionSchedulesInput{
					EventID:        eventID,
					SubscriptionID: added.SubscriptionID,
					StartDate:      state.LastStartDate,
				}).Get(ctx, &res)
			if err != nil {
				logger.Error("participant schedule creation failed",
					"subscription_id", added.SubscriptionID, "error", err)
			}

		case removed != nil:
			state.SignalsProcessed++
			if removed.SubscriptionID == 0 {
				logger.Info("participant_removed without subscription id, dropping")
				continue
			}
			var res activities.ScheduleMutationResult
			err := workflow.ExecuteActivity(sctx, activityDeleteSubscriptionSchedules,
				activities.SubscriptionSchedulesInput{
					EventID:        eventID,
					SubscriptionID: removed.SubscriptionID,
				}).Get(ctx, &res)
			if err != nil {
				logger.Error("participant schedule deletion failed",
					"subscription_id", removed.SubscriptionID, "error", err)
			}

		case update != nil:
			state.SignalsProcessed++
			applyUpdate(&details, &state, update)
			broadcast(dctx, ctx, activities.BroadcastInput{
				EventID:  eventID,
				Title:    fmt.Sprintf("Updated: %s", state.Name),
				Body:     updateBody(&details, update),
				Severity: notify.SeverityInfo,
			})
			if update.StartDate != nil && !update.StartDate.Equal(state.LastStartDate) {
				state.LastStartDate = *update.StartDate
				details.StartDate = *update.StartDate
				var res activities.ScheduleMutationResult
				if err := workflow.ExecuteActivity(sctx, activityDeleteEventSchedules,
					activities.EventSchedulesInput{EventID: eventID}).Get(ctx, &res); err != nil {
					logger.Error("schedule reset delete failed", "event_id", eventID, "error", err)
				}
				if err := workflow.ExecuteActivity(sctx, activityCreateEventSchedules,
					activities.EventSchedulesInput{EventID: eventID, StartDate: state.LastStartDate}).Get(ctx, &res); err != nil {
					logger.Error("schedule reset create failed", "event_id", eventID, "error", err)
				}
			}

		case manual != nil:
			state.SignalsProcessed++
			if manual.Title == "" && manual.Body == "" {
				logger.Info("manual_notification without content, dropping")
				continue
			}
			sev := manual.Severity
			if sev == "" {
				sev = notify.SeverityInfo
			}
			broadcast(dctx, ctx, activities.BroadcastInput{
				EventID:           eventID,
				Title:             manual.Title,
				Body:              manual.Body,
				Severity:          sev,
				SubscriptionIDs:   manual.SubscriptionIDs,
				SelectorTagFilter: manual.TagFilter,
			})
		}
	}
}

// lifetimeDeadline is when the orchestrator gives up waiting for signals:
// the event's end when it has one, otherwise start plus a grace period.
func lifetimeDeadline(details activities.EventDetails, lastStart time.Time) time.Time {
	if details.EndDate != nil && details.EndDate.After(lastStart) {
		return *details.EndDate
	}
	return lastStart.Add(expiryGrace)
}

func applyUpdate(details *activities.EventDetails, state *Status, update *EventUpdate) {
	if update.Name != nil {
		details.Name = *update.Name
		state.Name = *update.Name
	}
	if update.Location != nil {
		details.Location = *update.Location
	}
	if update.EndDate != nil {
		details.EndDate = update.EndDate
	}
}

// updateBody summarizes the changed fields for the info broadcast.
func updateBody(details *activities.EventDetails, update *EventUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has been updated.", details.Name)
	if update.StartDate != nil {
		fmt.Fprintf(&b, "\nNew time: %s", update.StartDate.UTC().Format("2006-01-02 15:04 MST"))
	}
	if update.Location != nil {
		fmt.Fprintf(&b, "\nNew location: %s", *update.Location)
	}
	return b.String()
}

// broadcast runs the broadcast activity and logs rather than fails on error;
// delivery is best-effort.
func broadcast(actx, ctx workflow.Context, in activities.BroadcastInput) {
	var res activities.BroadcastResult
	if err := workflow.ExecuteActivity(actx, activityBroadcast, in).Get(ctx, &res); err != nil {
		workflow.GetLogger(ctx).Error("broadcast failed",
			"event_id", in.EventID, "severity", in.Severity, "error", err)
	}
}

// deleteAllSchedules is the terminal cleanup; on completion the event has no
// schedules left.
func deleteAllSchedules(sctx, ctx workflow.Context, eventID int64) error {
	var res activities.ScheduleMutationResult
	if err := workflow.ExecuteActivity(sctx, activityDeleteEventSchedules,
		activities.EventSchedulesInput{EventID: eventID}).Get(ctx, &res); err != nil {
		return fmt.Errorf("final schedule cleanup: %w", err)
	}
	return nil
}
