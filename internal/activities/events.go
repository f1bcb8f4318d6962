package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chimecast/chime/internal/store"
)

// EventDetails is the orchestrator's view of an event. Workflows never read
// the database directly; they see only this snapshot.
type EventDetails struct {
	Found     bool       `json:"found"`
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Location  string     `json:"location,omitempty"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// GetEvent fetches the current event state. A missing event is reported via
// Found rather than an error so the orchestrator can terminate cleanly.
func (a *Activities) GetEvent(ctx context.Context, eventID int64) (EventDetails, error) {
	ev, err := a.gw.EventByID(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return EventDetails{ID: eventID}, nil
	}
	if err != nil {
		return EventDetails{}, fmt.Errorf("events: %w", err)
	}
	return EventDetails{
		Found:     true,
		ID:        ev.ID,
		Name:      ev.Name,
		Location:  ev.Location,
		StartDate: ev.StartDate,
		EndDate:   ev.EndDate,
	}, nil
}
