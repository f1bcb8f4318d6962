// Package activities holds the side-effecting units of work the workflows
// dispatch: broadcast delivery, personal reminders, schedule CRUD, and event
// lookups. Activities re-read state from the storage gateway in a fresh work
// scope on every invocation, so they observe whatever the edge committed
// before signaling.
package activities

import (
	"golang.org/x/time/rate"

	"github.com/chimecast/chime/internal/notify"
	"github.com/chimecast/chime/internal/resolve"
	"github.com/chimecast/chime/internal/schedule"
	"github.com/chimecast/chime/internal/store"
)

// Activities bundles the dependencies of every activity. Register the whole
// struct with the worker; method names become activity names.
type Activities struct {
	gw       store.Gateway
	resolver *resolve.Resolver
	driver   notify.Driver
	registry *schedule.Registry
	limiter  *rate.Limiter
}

// Options tunes optional activity behavior.
type Options struct {
	// DispatchesPerSecond caps the broadcast fan-out rate across
	// subscriptions. Zero disables pacing.
	DispatchesPerSecond float64
}

// New constructs the activity set.
func New(gw store.Gateway, resolver *resolve.Resolver, driver notify.Driver, registry *schedule.Registry, opts Options) *Activities {
	var limiter *rate.Limiter
	if opts.DispatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.DispatchesPerSecond), 1)
	}
	return &Activities{
		gw:       gw,
		resolver: resolver,
		driver:   driver,
		registry: registry,
		limiter:  limiter,
	}
}
