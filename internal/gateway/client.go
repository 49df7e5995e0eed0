package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bapnode.org/internal/obs"
)

// Policy bounds the retry loop for one destination.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // first delay; each further delay multiplies
	Multiplier  int
	MaxElapsed  time.Duration // wall-clock budget across all attempts
	Timeout     time.Duration // per-attempt request timeout
}

// DefaultPolicy is the network-wide delivery policy: three attempts with
// 1s, 5s, 25s delays, bounded at 75s wall-clock.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Multiplier:  5,
		MaxElapsed:  75 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// DeliveryError is the final failure surfaced after the retry loop gives up.
type DeliveryError struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.LastStatus)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

var (
	// ErrRejected means the counterparty rejected the payload itself;
	// retrying the same bytes cannot succeed.
	ErrRejected = errors.New("payload rejected by destination")
	// ErrExhausted means every permitted attempt failed.
	ErrExhausted = errors.New("retry attempts exhausted")
)

// Client delivers signed JSON payloads to counterparties and the network
// gateway. The retry loop blocks only the calling goroutine and must never
// run inside an open database transaction.
type Client struct {
	http   *http.Client
	policy Policy
	sleep  func(time.Duration)
	now    func() time.Time
}

// New builds a client with the given policy. A zero-value policy falls back
// to DefaultPolicy.
func New(policy Policy) *Client {
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	return &Client{
		http:   &http.Client{Timeout: policy.Timeout},
		policy: policy,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// retryable statuses: transient infrastructure failures. 501 and other
// codes above 500 mean the payload itself was rejected and are final.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Post delivers a JSON body to url with the given headers, retrying per
// policy. On success the raw response body is returned; the caller owns
// decoding (a decode failure is not grounds for redelivery).
func (c *Client) Post(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error) {
	return c.post(ctx, "", url, body, header)
}

// PostAction is Post with the protocol action attached for observability.
func (c *Client) PostAction(ctx context.Context, action, url string, body []byte, header http.Header) ([]byte, error) {
	return c.post(ctx, action, url, body, header)
}

func (c *Client) post(ctx context.Context, action, url string, body []byte, header http.Header) ([]byte, error) {
	if action == "" {
		action = "lookup"
	}
	start := c.now()
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.policy.Backoff
			for i := 1; i < attempt-1; i++ {
				delay *= time.Duration(c.policy.Multiplier)
			}
			if c.now().Sub(start)+delay > c.policy.MaxElapsed {
				break
			}
			c.sleep(delay)
		}

		respBody, status, err := c.attempt(ctx, url, body, header)
		lastStatus = status
		lastErr = err

		switch {
		case err != nil:
			obs.OutboundAttempts.WithLabelValues(action, "transport_error").Inc()
			obs.Event("outbound.attempt", map[string]any{
				"action": action, "url": url, "attempt": attempt, "error": err.Error(),
			})
		case status >= 200 && status < 300:
			obs.OutboundAttempts.WithLabelValues(action, "ok").Inc()
			obs.OutboundDeliveries.WithLabelValues(action, "delivered").Inc()
			return respBody, nil
		case retryableStatus(status):
			obs.OutboundAttempts.WithLabelValues(action, "retryable").Inc()
			obs.Event("outbound.attempt", map[string]any{
				"action": action, "url": url, "attempt": attempt, "status": status,
			})
		default:
			// Validation failure at the counterparty; final.
			obs.OutboundAttempts.WithLabelValues(action, "rejected").Inc()
			obs.OutboundDeliveries.WithLabelValues(action, "rejected").Inc()
			return nil, &DeliveryError{URL: url, Attempts: attempt, LastStatus: status, Err: ErrRejected}
		}
	}

	obs.OutboundDeliveries.WithLabelValues(action, "exhausted").Inc()
	if lastErr == nil {
		lastErr = ErrExhausted
	} else {
		lastErr = fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	}
	return nil, &DeliveryError{URL: url, Attempts: c.policy.MaxAttempts, LastStatus: lastStatus, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, url string, body []byte, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}
