// Package orchestrate is the programmatic surface the request edge consumes:
// launching an event's orchestrator, signaling it, and consuming unsubscribe
// tokens. Callers must commit their database writes before signaling; the
// orchestrator's activities re-read state in a fresh transaction and will not
// observe uncommitted changes.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/autosub"
	"github.com/chimecast/chime/internal/store"
	"github.com/chimecast/chime/internal/workflows"
)

// ErrTokenInvalid reports an unknown, expired, or already-used unsubscribe
// token.
var ErrTokenInvalid = errors.New("orchestrate: invalid or expired token")

// WorkflowClient is the slice of the Temporal client the orchestrate surface
// needs. client.Client satisfies it.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg any) error
}

// Client drives event orchestrators on behalf of the request edge.
type Client struct {
	tc        WorkflowClient
	gw        store.Gateway
	enroller  *autosub.Enroller
	taskQueue string
	now       func() time.Time
}

// NewClient constructs the edge-facing client.
func NewClient(tc WorkflowClient, gw store.Gateway, enroller *autosub.Enroller, taskQueue string) *Client {
	return &Client{tc: tc, gw: gw, enroller: enroller, taskQueue: taskQueue, now: time.Now}
}

// MintWorkflowID returns a globally unique orchestrator ID for an event. The
// random suffix guarantees a re-created event never collides with the
// terminated orchestrator of a deleted one.
func MintWorkflowID(eventID int64) string {
	return fmt.Sprintf("event-%d-%s", eventID, uuid.NewString())
}

// LaunchEvent enrolls tag-matched subscribers and starts the event's
// orchestrator. Call only after the event row is committed.
func (c *Client) LaunchEvent(ctx context.Context, eventID int64, tags []string) error {
	ev, err := c.gw.EventByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("orchestrate: launch event %d: %w", eventID, err)
	}
	if ev.WorkflowID == "" {
		return fmt.Errorf("orchestrate: event %d has no workflow id", eventID)
	}
	if _, err := c.enroller.Enroll(ctx, ev, tags); err != nil {
		return err
	}
	return c.StartEventOrchestrator(ctx, eventID, ev.WorkflowID)
}

// StartEventOrchestrator starts the per-event durable execution. Reuse of a
// terminated workflow ID is rejected by the runtime, preserving the
// at-most-one-live-orchestrator invariant.
func (c *Client) StartEventOrchestrator(ctx context.Context, eventID int64, workflowID string) error {
	opts := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	if _, err := c.tc.ExecuteWorkflow(ctx, opts, workflows.EventLifecycleName, eventID); err != nil {
		return fmt.Errorf("orchestrate: start orchestrator %s: %w", workflowID, err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "event orchestrator started"},
		log.KV{K: "event_id", V: eventID},
		log.KV{K: "workflow_id", V: workflowID})
	return nil
}

// SignalParticipantAdded tells the orchestrator to register the
// subscription's reminder schedules.
func (c *Client) SignalParticipantAdded(ctx context.Context, workflowID string, subscriptionID int64) error {
	return c.signal(ctx, workflowID, workflows.SignalParticipantAdded,
		workflows.ParticipantChange{SubscriptionID: subscriptionID})
}

// SignalParticipantRemoved tells the orchestrator to drop the subscription's
// reminder schedules.
func (c *Client) SignalParticipantRemoved(ctx context.Context, workflowID string, subscriptionID int64) error {
	return c.signal(ctx, workflowID, workflows.SignalParticipantRemoved,
		workflows.ParticipantChange{SubscriptionID: subscriptionID})
}

// SignalEventUpdated notifies subscribers of the change and retargets
// schedules when the start moved.
func (c *Client) SignalEventUpdated(ctx context.Context, workflowID string, update workflows.EventUpdate) error {
	return c.signal(ctx, workflowID, workflows.SignalEventUpdated, update)
}

// SignalCancelEvent broadcasts the cancellation and terminates the
// orchestrator.
func (c *Client) SignalCancelEvent(ctx context.Context, workflowID string) error {
	return c.signal(ctx, workflowID, workflows.SignalCancelEvent, nil)
}

// SignalManualNotification broadcasts an organizer-authored message.
func (c *Client) SignalManualNotification(ctx context.Context, workflowID string, n workflows.ManualNotification) error {
	return c.signal(ctx, workflowID, workflows.SignalManualNotification, n)
}

func (c *Client) signal(ctx context.Context, workflowID, name string, payload any) error {
	if err := c.tc.SignalWorkflow(ctx, workflowID, "", name, payload); err != nil {
		return fmt.Errorf("orchestrate: signal %s to %s: %w", name, workflowID, err)
	}
	return nil
}

// NewUnsubscribeToken mints a single-use unsubscribe token for a
// subscription. The edge embeds it in outgoing mail.
func (c *Client) NewUnsubscribeToken(ctx context.Context, subscriptionID int64) (string, error) {
	token, err := c.gw.CreateUnsubscribeToken(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("orchestrate: token for subscription %d: %w", subscriptionID, err)
	}
	return token, nil
}

// ConsumeUnsubscribeToken validates the token, deletes its subscription, and
// signals participant_removed so the orchestrator drops the schedules. The
// database work commits before the signal. A signal failure after the commit
// is logged, not returned; the orchestrator cleans up remaining schedules at
// event end regardless.
func (c *Client) ConsumeUnsubscribeToken(ctx context.Context, token string) error {
	t, err := c.gw.UnsubscribeTokenByValue(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("orchestrate: token lookup: %w", err)
	}
	if !t.Valid(c.now()) {
		return ErrTokenInvalid
	}

	sub, err := c.gw.SubscriptionByID(ctx, t.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		// Subscription already gone; the token is dead either way.
		return c.gw.MarkTokenUsed(ctx, token)
	}
	if err != nil {
		return fmt.Errorf("orchestrate: token subscription: %w", err)
	}
	ev, err := c.gw.EventByID(ctx, sub.EventID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("orchestrate: token event: %w", err)
	}

	if err := c.gw.MarkTokenUsed(ctx, token); err != nil {
		return fmt.Errorf("orchestrate: mark token used: %w", err)
	}
	if err := c.gw.DeleteSubscription(ctx, sub.ID); err != nil {
		return fmt.Errorf("orchestrate: delete subscription %d: %w", sub.ID, err)
	}

	if ev != nil && ev.WorkflowID != "" {
		if err := c.SignalParticipantRemoved(ctx, ev.WorkflowID, sub.ID); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "unsubscribe signal failed, schedules expire with the event"},
				log.KV{K: "subscription_id", V: sub.ID},
				log.KV{K: "err", V: err.Error()})
		}
	}
	return nil
}
