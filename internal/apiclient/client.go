// Package apiclient talks to the scheduling backend over HTTP and reduces
// every response to either an Envelope or an *Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps a response body. Larger bodies fail instead of being
// truncated into an unparseable payload.
var maxBodyBytes int64 = 8 << 20

// Envelope is the normalized success shape.
type Envelope struct {
	Success     bool                   `json:"success"`
	Data        json.RawMessage        `json:"data,omitempty"`
	MessageCode string                 `json:"messageCode"`
	MessageType contract.MessageType   `json:"messageType"`
	Message     string                 `json:"message,omitempty"`
	Details     []contract.FieldDetail `json:"details,omitempty"`
	Params      map[string]any         `json:"params,omitempty"`
	// Raw is the backend body when it was already an envelope, so top-level
	// keys outside the fields above stay reachable through Field.
	Raw json.RawMessage `json:"-"`
}

func successEnvelope(data json.RawMessage) Envelope {
	return Envelope{
		Success:     true,
		Data:        data,
		MessageCode: contract.MsgOperationSuccess,
		MessageType: contract.MessageSuccess,
	}
}

// HasData reports whether the response carried a payload (JSON null counts).
func (e Envelope) HasData() bool { return e.Data != nil }

// Decode unmarshals the payload into v. A missing or null payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Field decodes one top-level key of the backend envelope into v. It reports
// false when the body was not an envelope or lacks the key.
func (e Envelope) Field(name string, v any) (bool, error) {
	if len(e.Raw) == 0 {
		return false, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Raw, &obj); err != nil {
		return false, err
	}
	raw, ok := obj[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Credentials supplies the bearer token and is told when the backend rejects it.
type Credentials interface {
	Token() string
	Invalidate()
}

type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Credentials Credentials
	// OnUnauthorized runs after Credentials.Invalidate on every HTTP 401.
	OnUnauthorized func()
	Timeout        time.Duration
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	Burst     int
	UserAgent string
	Logger    *logrus.Logger
}

type Client struct {
	base           *url.URL
	http           *http.Client
	creds          Credentials
	onUnauthorized func()
	timeout        time.Duration
	limiter        *rate.Limiter
	userAgent      string
	log            *logrus.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", base.Scheme)
	}
	c := &Client{
		base:           base,
		http:           opts.HTTPClient,
		creds:          opts.Credentials,
		onUnauthorized: opts.OnUnauthorized,
		timeout:        opts.Timeout,
		userAgent:      opts.UserAgent,
		log:            opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = logrus.New()
		c.log.SetOutput(io.Discard)
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// SetUnauthorizedHook replaces the 401 observer. It exists because the
// session manager is built after the client it depends on.
func (c *Client) SetUnauthorizedHook(fn func()) { c.onUnauthorized = fn }

type RequestOption func(*http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func WithIdempotencyKey(key string) RequestOption {
	return WithHeader("Idempotency-Key", key)
}

type keepCredentialsKey struct{}

// WithoutCredentialReset keeps the stored token and skips the unauthorized
// hook when this request gets a 401. Login uses it: a rejected password says
// nothing about the session already in place.
func WithoutCredentialReset() RequestOption {
	return func(r *http.Request) {
		*r = *r.WithContext(context.WithValue(r.Context(), keepCredentialsKey{}, true))
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (Envelope, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (Envelope, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (Envelope, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do issues one request. The returned error, when non-nil, is always *Error.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, newError(contract.MsgAPIError, 0, "encode request body", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return Envelope{}, newError(contract.MsgAPIError, 0, "build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.creds != nil {
		if tok := c.creds.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for _, opt := range opts {
		opt(req)
	}

	entry := c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Envelope{}, newError(contract.MsgNetworkError, 0, "request not sent", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		entry.WithError(err).Debug("api request failed")
		return Envelope{}, newError(contract.MsgNetworkError, 0, "no response from server", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Envelope{}, newError(contract.MsgNetworkError, resp.StatusCode, "read response body", err)
	}
	entry.WithFields(logrus.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := statusError(resp.StatusCode, raw)
		if resp.StatusCode == http.StatusUnauthorized && req.Context().Value(keepCredentialsKey{}) == nil {
			c.rejectCredentials()
		}
		return Envelope{}, e
	}
	if int64(len(raw)) > maxBodyBytes {
		entry.WithField("status", resp.StatusCode).Warn("api response body over limit")
		return Envelope{}, newError(contract.MsgAPIError, resp.StatusCode, fmt.Sprintf("response body exceeds %d bytes", maxBodyBytes), ErrBodyTooLarge)
	}
	return normalize(Classify(resp.StatusCode, raw))
}

func (c *Client) rejectCredentials() {
	if c.creds != nil {
		c.creds.Invalidate()
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.base.String(), "/")
	return base + "/" + strings.TrimLeft(path, "/")
}
