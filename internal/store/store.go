// Package store is the typed storage gateway for events, subscribers,
// channels, subscriptions, and unsubscribe tokens. Every operation runs in
// its own transactional work scope: the scope begins a transaction, commits
// on success, and rolls back on failure. All relations a caller may need
// later are materialized eagerly before the scope exits; no returned value
// holds a reference into a live session.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chimecast/chime/internal/secrets"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Gateway is the storage surface the notification core consumes. Channel
// values returned from any method carry decrypted delivery URLs; callers
// must treat them as secrets.
type Gateway interface {
	EventByID(ctx context.Context, id int64) (*Event, error)
	EventByWorkflowID(ctx context.Context, workflowID string) (*Event, error)

	// SubscribersForEvent returns every subscription of the event with
	// selectors, reminder offsets, and subscriber eagerly loaded.
	SubscribersForEvent(ctx context.Context, eventID int64) ([]Subscription, error)
	SubscriptionByID(ctx context.Context, id int64) (*Subscription, error)

	// ChannelsForSubscriber returns the channels reachable by the
	// subscriber: their own plus those owned by organizations they belong
	// to. Inactive channels are excluded unless the filter says otherwise.
	ChannelsForSubscriber(ctx context.Context, subscriberID int64, f ChannelFilter) ([]Channel, error)

	// ChannelsForEventScope returns active channels whose tag equals
	// autosubTag within the event's audience. Identical tags in different
	// organizations never cross-match because the query is scoped.
	ChannelsForEventScope(ctx context.Context, autosubTag string, scope EventScope) ([]Channel, error)

	OrganizationMembers(ctx context.Context, organizationID int64) ([]int64, error)

	// CreateSubscription upserts on (event_id, subscriber_id) and returns
	// the subscription ID. Selectors and reminder offsets are inserted
	// idempotently.
	CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (int64, error)
	DeleteSubscription(ctx context.Context, id int64) error

	CreateUnsubscribeToken(ctx context.Context, subscriptionID int64) (string, error)
	UnsubscribeTokenByValue(ctx context.Context, token string) (*UnsubscribeToken, error)
	MarkTokenUsed(ctx context.Context, token string) error
}

// DB is the connection pool surface the gateway needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgGateway implements Gateway over Postgres.
type PgGateway struct {
	db     DB
	cipher *secrets.Cipher
	now    func() time.Time
}

// New constructs a PgGateway. The cipher protects channel delivery URLs.
func New(db DB, cipher *secrets.Cipher) *PgGateway {
	return &PgGateway{db: db, cipher: cipher, now: time.Now}
}

// withScope runs fn inside a transaction, committing on success.
func (g *PgGateway) withScope(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

const eventColumns = `id, name, coalesce(description, ''), coalesce(location, ''),
	start_date, end_date, is_public, organizer_id, organization_id, workflow_id`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.Description, &ev.Location,
		&ev.StartDate, &ev.EndDate, &ev.IsPublic, &ev.OrganizerID,
		&ev.OrganizationID, &ev.WorkflowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan event: %w", err)
	}
	return &ev, nil
}

// EventByID fetches an event by primary key.
func (g *PgGateway) EventByID(ctx context.Context, id int64) (*Event, error) {
	var ev *Event
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		ev, err = scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
		return err
	})
	return ev, err
}

// EventByWorkflowID fetches an event by its durable-execution ID.
func (g *PgGateway) EventByWorkflowID(ctx context.Context, workflowID string) (*Event, error) {
	var ev *Event
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		ev, err = scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE workflow_id = $1`, workflowID))
		return err
	})
	return ev, err
}

// SubscribersForEvent loads the event's subscriptions with all relations the
// delivery path needs, in one scope.
func (g *PgGateway) SubscribersForEvent(ctx context.Context, eventID int64) ([]Subscription, error) {
	var subs []Subscription
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		subs, err = loadSubscriptions(ctx, tx,
			`WHERE s.event_id = $1 ORDER BY s.id`, eventID)
		return err
	})
	return subs, err
}

// SubscriptionByID loads one subscription with selectors, reminder offsets,
// and subscriber.
func (g *PgGateway) SubscriptionByID(ctx context.Context, id int64) (*Subscription, error) {
	var sub *Subscription
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		subs, err := loadSubscriptions(ctx, tx, `WHERE s.id = $1`, id)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return ErrNotFound
		}
		sub = &subs[0]
		return nil
	})
	return sub, err
}

func loadSubscriptions(ctx context.Context, tx pgx.Tx, where string, args ...any) ([]Subscription, error) {
	rows, err := tx.Query(ctx, `
		SELECT s.id, s.event_id, s.subscriber_id, s.auto_subscribed,
		       u.id, u.email, u.name, u.verified
		FROM subscriptions s
		JOIN subscribers u ON u.id = s.subscriber_id `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query subscriptions: %w", err)
	}
	var subs []Subscription
	byID := map[int64]int{}
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.EventID, &sub.SubscriberID, &sub.AutoSubscribed,
			&sub.Subscriber.ID, &sub.Subscriber.Email, &sub.Subscriber.Name,
			&sub.Subscriber.Verified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		byID[sub.ID] = len(subs)
		subs = append(subs, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}

	selRows, err := tx.Query(ctx, `
		SELECT subscription_id, id, channel_id, tag
		FROM routing_selectors WHERE subscription_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: query selectors: %w", err)
	}
	for selRows.Next() {
		var subID int64
		var sel RoutingSelector
		if err := selRows.Scan(&subID, &sel.ID, &sel.ChannelID, &sel.Tag); err != nil {
			selRows.Close()
			return nil, fmt.Errorf("store: scan selector: %w", err)
		}
		if i, ok := byID[subID]; ok {
			subs[i].Selectors = append(subs[i].Selectors, sel)
		}
	}
	selRows.Close()
	if err := selRows.Err(); err != nil {
		return nil, fmt.Errorf("store: selectors: %w", err)
	}

	remRows, err := tx.Query(ctx, `
		SELECT subscription_id, offset_seconds
		FROM reminder_preferences WHERE subscription_id = ANY($1) ORDER BY offset_seconds DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: query reminder preferences: %w", err)
	}
	for remRows.Next() {
		var subID int64
		var offset int
		if err := remRows.Scan(&subID, &offset); err != nil {
			remRows.Close()
			return nil, fmt.Errorf("store: scan reminder preference: %w", err)
		}
		if i, ok := byID[subID]; ok {
			subs[i].ReminderOffsets = append(subs[i].ReminderOffsets, offset)
		}
	}
	remRows.Close()
	if err := remRows.Err(); err != nil {
		return nil, fmt.Errorf("store: reminder preferences: %w", err)
	}
	return subs, nil
}

const channelColumns = `c.id, c.owner_subscriber_id, c.owner_organization_id,
	c.name, c.tag, c.active, c.delivery_url`

// ChannelsForSubscriber returns the subscriber's reachable channels, with
// delivery URLs decrypted.
func (g *PgGateway) ChannelsForSubscriber(ctx context.Context, subscriberID int64, f ChannelFilter) ([]Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels c
		WHERE (c.owner_subscriber_id = $1
		       OR c.owner_organization_id IN (
		           SELECT organization_id FROM organization_members WHERE subscriber_id = $1))`
	args := []any{subscriberID}
	if !f.IncludeInactive {
		query += ` AND c.active`
	}
	if len(f.IDs) > 0 {
		args = append(args, f.IDs)
		query += fmt.Sprintf(` AND c.id = ANY($%d)`, len(args))
	}
	if f.Tag != "" {
		args = append(args, strings.ToLower(f.Tag))
		query += fmt.Sprintf(` AND c.tag = $%d`, len(args))
	}
	query += ` ORDER BY c.id`

	var chans []Channel
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		chans, err = g.queryChannels(ctx, tx, query, args...)
		return err
	})
	return chans, err
}

// ChannelsForEventScope implements the auto-subscription channel lookup.
func (g *PgGateway) ChannelsForEventScope(ctx context.Context, autosubTag string, scope EventScope) ([]Channel, error) {
	var (
		query string
		args  []any
	)
	switch {
	case scope.OrganizationID != nil:
		query = `
			SELECT ` + channelColumns + `
			FROM channels c
			WHERE c.active AND c.tag = $1
			  AND (c.owner_organization_id = $2
			       OR c.owner_subscriber_id IN (
			           SELECT subscriber_id FROM organization_members WHERE organization_id = $2))
			ORDER BY c.id`
		args = []any{strings.ToLower(autosubTag), *scope.OrganizationID}
	case scope.Public:
		query = `
			SELECT ` + channelColumns + `
			FROM channels c
			WHERE c.active AND c.tag = $1 AND c.owner_subscriber_id IS NOT NULL
			ORDER BY c.id`
		args = []any{strings.ToLower(autosubTag)}
	default:
		// Private personal event: nobody is auto-enrolled.
		return nil, nil
	}

	var chans []Channel
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		var err error
		chans, err = g.queryChannels(ctx, tx, query, args...)
		return err
	})
	return chans, err
}

func (g *PgGateway) queryChannels(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]Channel, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query channels: %w", err)
	}
	defer rows.Close()
	var chans []Channel
	for rows.Next() {
		var (
			ch   Channel
			blob []byte
		)
		if err := rows.Scan(&ch.ID, &ch.OwnerSubscriberID, &ch.OwnerOrganizationID,
			&ch.Name, &ch.Tag, &ch.Active, &blob); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		url, err := g.cipher.Open(blob)
		if err != nil {
			return nil, fmt.Errorf("store: channel %d: %w", ch.ID, err)
		}
		ch.DeliveryURL = url
		chans = append(chans, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: channels: %w", err)
	}
	return chans, nil
}

// OrganizationMembers returns the subscriber IDs of the organization's
// members.
func (g *PgGateway) OrganizationMembers(ctx context.Context, organizationID int64) ([]int64, error) {
	var members []int64
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT subscriber_id FROM organization_members
			WHERE organization_id = $1 ORDER BY subscriber_id`, organizationID)
		if err != nil {
			return fmt.Errorf("store: query members: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("store: scan member: %w", err)
			}
			members = append(members, id)
		}
		return rows.Err()
	})
	return members, err
}

// CreateSubscription upserts the subscription row and attaches selectors and
// reminder offsets. Re-running with the same inputs leaves the database
// unchanged.
func (g *PgGateway) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (int64, error) {
	var id int64
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO subscriptions (event_id, subscriber_id, auto_subscribed)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id, subscriber_id)
			DO UPDATE SET auto_subscribed = subscriptions.auto_subscribed
			RETURNING id`,
			p.EventID, p.SubscriberID, p.AutoSubscribed).Scan(&id)
		if err != nil {
			return fmt.Errorf("store: upsert subscription: %w", err)
		}
		for _, sel := range p.Selectors {
			var tag *string
			if sel.Tag != nil {
				lowered := strings.ToLower(*sel.Tag)
				tag = &lowered
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO routing_selectors (subscription_id, channel_id, tag)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, id, sel.ChannelID, tag); err != nil {
				return fmt.Errorf("store: insert selector: %w", err)
			}
		}
		for _, offset := range p.ReminderOffsets {
			if offset < 0 {
				return fmt.Errorf("store: reminder offset must be non-negative, got %d", offset)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO reminder_preferences (subscription_id, offset_seconds)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, id, offset); err != nil {
				return fmt.Errorf("store: insert reminder preference: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// DeleteSubscription removes the subscription; selectors, reminder
// preferences, and tokens go with it via cascading foreign keys. Deleting an
// absent subscription is not an error.
func (g *PgGateway) DeleteSubscription(ctx context.Context, id int64) error {
	return g.withScope(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id); err != nil {
			return fmt.Errorf("store: delete subscription: %w", err)
		}
		return nil
	})
}

// unsubscribeTokenTTL is how long a token stays consumable.
const unsubscribeTokenTTL = 60 * 24 * time.Hour

// CreateUnsubscribeToken mints a fresh single-use token for the subscription.
func (g *PgGateway) CreateUnsubscribeToken(ctx context.Context, subscriptionID int64) (string, error) {
	// Two UUIDs give 32 bytes of randomness in the stored value.
	token := uuid.NewString() + uuid.NewString()
	now := g.now().UTC()
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO unsubscribe_tokens (token, subscription_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4)`,
			token, subscriptionID, now, now.Add(unsubscribeTokenTTL)); err != nil {
			return fmt.Errorf("store: insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// UnsubscribeTokenByValue fetches a token row.
func (g *PgGateway) UnsubscribeTokenByValue(ctx context.Context, token string) (*UnsubscribeToken, error) {
	var t UnsubscribeToken
	err := g.withScope(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT token, subscription_id, created_at, expires_at, used_at
			FROM unsubscribe_tokens WHERE token = $1`, token).
			Scan(&t.Token, &t.SubscriptionID, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: scan token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTokenUsed stamps the token's used_at. Marking twice is not an error.
func (g *PgGateway) MarkTokenUsed(ctx context.Context, token string) error {
	return g.withScope(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE unsubscribe_tokens SET used_at = $2
			WHERE token = $1 AND used_at IS NULL`, token, g.now().UTC()); err != nil {
			return fmt.Errorf("store: mark token used: %w", err)
		}
		return nil
	})
}
