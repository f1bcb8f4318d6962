// Package resolve expands a subscription's routing selectors into concrete
// delivery endpoints. Selector expansion unions explicit channel references
// with tag matches, de-duplicates by channel ID preserving first-seen order,
// and falls back to a service-SMTP email endpoint when nothing resolves.
package resolve

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/chimecast/chime/internal/config"
	"github.com/chimecast/chime/internal/store"
)

// Endpoint is one concrete delivery target. A zero ChannelID marks the
// synthesized SMTP fallback. URL is a secret and must only flow to the
// delivery driver.
type Endpoint struct {
	ChannelID int64
	URL       string
}

// Resolver turns subscriptions into endpoint sets.
type Resolver struct {
	gw   store.Gateway
	smtp config.SMTP
}

// New constructs a Resolver. The SMTP config may be the zero value, which
// disables the fallback.
func New(gw store.Gateway, smtp config.SMTP) *Resolver {
	return &Resolver{gw: gw, smtp: smtp}
}

// Resolve expands the subscription's selectors. tagFilter, when non-empty,
// restricts which tag selectors participate (explicit channel selectors are
// untouched). An empty result means the subscription is pending: it has no
// usable channel and no fallback applied.
//
// Channels that will not be used are never fetched, so their URLs are never
// decrypted here.
func (r *Resolver) Resolve(ctx context.Context, sub store.Subscription, tagFilter []string) ([]Endpoint, error) {
	var (
		channelIDs []int64
		tags       []string
	)
	for _, sel := range sub.Selectors {
		switch {
		case sel.ChannelID != nil:
			channelIDs = append(channelIDs, *sel.ChannelID)
		case sel.Tag != nil:
			tag := strings.ToLower(*sel.Tag)
			if len(tagFilter) > 0 && !containsFold(tagFilter, tag) {
				continue
			}
			tags = append(tags, tag)
		}
	}

	var (
		endpoints []Endpoint
		seen      = map[int64]bool{}
	)
	add := func(chans []store.Channel) {
		for _, ch := range chans {
			if seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			endpoints = append(endpoints, Endpoint{ChannelID: ch.ID, URL: ch.DeliveryURL})
		}
	}

	if len(channelIDs) > 0 {
		chans, err := r.gw.ChannelsForSubscriber(ctx, sub.SubscriberID, store.ChannelFilter{IDs: channelIDs})
		if err != nil {
			return nil, fmt.Errorf("resolve: explicit channels: %w", err)
		}
		add(chans)
	}
	for _, tag := range tags {
		chans, err := r.gw.ChannelsForSubscriber(ctx, sub.SubscriberID, store.ChannelFilter{Tag: tag})
		if err != nil {
			return nil, fmt.Errorf("resolve: tag %q: %w", tag, err)
		}
		add(chans)
	}

	if len(endpoints) > 0 {
		return endpoints, nil
	}
	if fallback, ok := r.fallbackEndpoint(sub.Subscriber); ok {
		return []Endpoint{fallback}, nil
	}
	return nil, nil
}

// fallbackEndpoint synthesizes an SMTP delivery URL addressed to the
// subscriber from the service credentials. The account pair depends on the
// subscriber's verification state.
func (r *Resolver) fallbackEndpoint(sub store.Subscriber) (Endpoint, bool) {
	user, password, ok := r.smtp.Account(sub.Verified)
	if !ok || sub.Email == "" {
		return Endpoint{}, false
	}
	u := url.URL{
		Scheme: "smtp",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", r.smtp.Host, r.smtp.Port),
		Path:   "/",
	}
	q := url.Values{}
	q.Set("from", user)
	q.Set("to", sub.Email)
	u.RawQuery = q.Encode()
	return Endpoint{URL: u.String()}, true
}

// URLs projects the endpoints' delivery URLs for the driver.
func URLs(endpoints []Endpoint) []string {
	urls := make([]string, len(endpoints))
	for i, e := range endpoints {
		urls[i] = e.URL
	}
	return urls
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
