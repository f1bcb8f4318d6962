// Package notify is the delivery driver: it fans a single notification out
// to a set of delivery URLs through the shoutrrr multi-backend dispatcher
// and reports per-endpoint outcomes. The URL scheme selects the backend
// (smtp, gotify, ntfy, discord, slack, ...); the driver treats URLs as
// opaque secrets and only ever exposes their scheme.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message is the content delivered to every endpoint of one dispatch.
type Message struct {
	Title    string
	Body     string
	Severity Severity
}

// EndpointResult is the outcome for a single delivery URL. Only the scheme
// of the URL is retained.
type EndpointResult struct {
	Scheme string `json:"scheme"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Result aggregates one dispatch.
type Result struct {
	Total     int              `json:"total"`
	Success   int              `json:"success"`
	Failed    int              `json:"failed"`
	Endpoints []EndpointResult `json:"endpoints"`
}

// Driver delivers one message to a set of delivery URLs. Implementations
// must not abort remaining endpoints when one fails, and must not return an
// error for delivery failures; those are reported in the Result. The only
// error condition is caller cancellation.
type Driver interface {
	Deliver(ctx context.Context, urls []string, msg Message) (Result, error)
}

// sendFunc performs the underlying fan-out and returns one error slot per
// URL. Swappable in tests.
type sendFunc func(urls []string, body string, params *types.Params) []error

// ShoutrrrDriver implements Driver with a fresh shoutrrr sender per
// invocation; no state is shared across calls.
type ShoutrrrDriver struct {
	send sendFunc
}

// NewDriver constructs the production driver.
func NewDriver() *ShoutrrrDriver {
	return &ShoutrrrDriver{send: shoutrrrSend}
}

func shoutrrrSend(urls []string, body string, params *types.Params) []error {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		errs := make([]error, len(urls))
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	return sender.Send(body, params)
}

// Deliver dispatches msg to every URL once. The library call is synchronous
// and not cancellable mid-flight; cancellation is observed before the call
// and after it returns.
func (d *ShoutrrrDriver) Deliver(ctx context.Context, urls []string, msg Message) (Result, error) {
	res := Result{Total: len(urls)}
	if len(urls) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	params := types.Params{
		"title": msg.Title,
	}
	if p, ok := severityPriority(msg.Severity); ok {
		params["priority"] = p
	}

	errs := d.safeSend(urls, msg.Body, &params)
	for i, u := range urls {
		er := EndpointResult{Scheme: Scheme(u)}
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		if err != nil {
			er.Error = err.Error()
			res.Failed++
		} else {
			er.OK = true
			res.Success++
		}
		res.Endpoints = append(res.Endpoints, er)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// safeSend guards against the library panicking on a malformed URL; a panic
// fails every endpoint of the dispatch.
func (d *ShoutrrrDriver) safeSend(urls []string, body string, params *types.Params) (errs []error) {
	defer func() {
		if r := recover(); r != nil {
			errs = make([]error, len(urls))
			for i := range errs {
				errs[i] = fmt.Errorf("dispatcher panic: %v", r)
			}
		}
	}()
	return d.send(urls, body, params)
}

// severityPriority maps the severity to the numeric priority understood by
// the push backends (gotify/ntfy). Info carries no priority override.
func severityPriority(s Severity) (string, bool) {
	switch s {
	case SeverityWarning:
		return "5", true
	case SeverityCritical:
		return "8", true
	default:
		return "", false
	}
}

// Scheme extracts the URL scheme, the only part of a delivery URL that may
// appear in logs or results.
func Scheme(url string) string {
	if i := strings.Index(url, "://"); i > 0 {
		return url[:i]
	}
	return "unknown"
}
