package zapier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/observability"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"

	// MaxLoggedResponseChars bounds the response body kept in delivery logs.
	MaxLoggedResponseChars = 2000

	maxResponseReadBytes = 64 << 10
)

const (
	FailureNetwork = "network"
	FailureUnknown = "unknown"
)

type Client struct {
	httpClient *http.Client
}

// NewClient uses httpClient for every request; timeouts come from each call.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(0)
	}
	return &Client{httpClient: httpClient}
}

type DeliveryRequest struct {
	URL     string
	Secret  string
	Event   models.WebhookEvent
	Body    []byte
	Timeout time.Duration
}

type DeliveryResult struct {
	StatusCode   int
	Success      bool
	ResponseTime time.Duration
	ResponseBody string
	Err          error
}

// ErrorMessage is empty for successful deliveries.
func (r DeliveryResult) ErrorMessage() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case !r.Success:
		return fmt.Sprintf("unexpected status %d", r.StatusCode)
	default:
		return ""
	}
}

// Sign returns the signature header value, or "" when no secret is configured.
func Sign(secret string, body []byte) string {
	sum := crypto.SignPayload(secret, body)
	if sum == "" {
		return ""
	}
	return "sha256=" + sum
}

// Deliver POSTs the body once. Non-2xx responses are reported as unsuccessful, not as errors.
func (c *Client) Deliver(ctx context.Context, req DeliveryRequest) DeliveryResult {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("failed to build webhook request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "preorders-webhooks/1.0")
	if req.Event != "" {
		httpReq.Header.Set(EventHeader, string(req.Event))
	}
	if signature := Sign(req.Secret, req.Body); signature != "" {
		httpReq.Header.Set(SignatureHeader, signature)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return DeliveryResult{ResponseTime: elapsed, Err: fmt.Errorf("webhook request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseReadBytes))
	result := DeliveryResult{
		StatusCode:   resp.StatusCode,
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseTime: elapsed,
		ResponseBody: TruncateBody(string(raw), MaxLoggedResponseChars),
	}
	if readErr != nil && result.Success {
		result.Err = fmt.Errorf("failed to read webhook response: %w", readErr)
	}
	return result
}

type ReachResult struct {
	Reachable   bool
	StatusCode  int
	Latency     time.Duration
	FailureKind string
	Err         error
}

// CheckReach sends a HEAD request. Any HTTP response counts as reachable.
func (c *Client) CheckReach(ctx context.Context, rawURL string, timeout time.Duration) ReachResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ReachResult{FailureKind: FailureUnknown, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ReachResult{Latency: latency, FailureKind: ClassifyError(err), Err: err}
	}
	resp.Body.Close()

	return ReachResult{Reachable: true, StatusCode: resp.StatusCode, Latency: latency}
}

// ClassifyError separates transport failures from everything else.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	// *url.Error satisfies net.Error itself, so inspect what it wraps.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	return FailureUnknown
}

// TruncateBody cuts s to at most limit runes.
func TruncateBody(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
