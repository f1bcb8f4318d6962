package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/chimecast/chime/internal/activities"
)

// PersonalReminder is the short-lived execution a reminder schedule fires.
// It dispatches the delivery activity once and completes; a subscription or
// event removed since the schedule was created makes the run a no-op.
func PersonalReminder(ctx workflow.Context, eventID, subscriptionID int64, offsetSeconds int) (activities.BroadcastResult, error) {
	actx := workflow.WithActivityOptions(ctx, deliveryOptions)
	var res activities.BroadcastResult
	err := workflow.ExecuteActivity(actx, activitySendPersonalReminder,
		activities.PersonalReminderInput{
			EventID:        eventID,
			SubscriptionID: subscriptionID,
			OffsetSeconds:  offsetSeconds,
		}).Get(ctx, &res)
	return res, err
}
