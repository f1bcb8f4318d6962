package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Reminder schedule IDs follow a fixed grammar so that groups of schedules
// can be removed by prefix:
//
//	event-<event_id>-sub-<subscription_id>-reminder-<offset_seconds>s
//
// The prefix helpers below must stay in sync with ReminderID.

// ReminderID builds the canonical schedule ID for one reminder.
func ReminderID(eventID, subscriptionID int64, offsetSeconds int) string {
	return fmt.Sprintf("event-%d-sub-%d-reminder-%ds", eventID, subscriptionID, offsetSeconds)
}

// EventPrefix matches every schedule belonging to an event.
func EventPrefix(eventID int64) string {
	return fmt.Sprintf("event-%d-", eventID)
}

// SubscriptionPrefix matches every reminder schedule of one subscription.
func SubscriptionPrefix(eventID, subscriptionID int64) string {
	return fmt.Sprintf("event-%d-sub-%d-reminder-", eventID, subscriptionID)
}

// ParseReminderID decodes a canonical reminder schedule ID. ok is false when
// the ID does not follow the grammar.
func ParseReminderID(id string) (eventID, subscriptionID int64, offsetSeconds int, ok bool) {
	rest, found := strings.CutPrefix(id, "event-")
	if !found {
		return 0, 0, 0, false
	}
	eventStr, rest, found := strings.Cut(rest, "-sub-")
	if !found {
		return 0, 0, 0, false
	}
	subStr, offsetStr, found := strings.Cut(rest, "-reminder-")
	if !found || !strings.HasSuffix(offsetStr, "s") {
		return 0, 0, 0, false
	}
	eventID, err := strconv.ParseInt(eventStr, 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	subscriptionID, err = strconv.ParseInt(subStr, 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	offsetSeconds, err = strconv.Atoi(strings.TrimSuffix(offsetStr, "s"))
	if err != nil || offsetSeconds < 0 {
		return 0, 0, 0, false
	}
	return eventID, subscriptionID, offsetSeconds, true
}
