// Package upstream talks to the two hosted services the backend depends on:
// the receipt extractor and the recipe chat. Both accept a JSON POST
// authenticated with an x-api-key header and answer with the same
// envelope:
//
//	{"ok": true, "message": "...", "result": {...}}
//
// Post decodes result into the caller's value. Anything else (transport
// failure, non-2xx status, ok=false, undecodable body) comes back as an
// *Error whose Message is safe to show to the user.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// Error is a failed upstream call.
type Error struct {
	Status  int    // HTTP status, 0 when the request never completed
	Message string // user-facing description
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream: %s (status %d)", e.Message, e.Status)
	}
	return "upstream: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Client posts JSON to one upstream endpoint.
type Client struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

// New returns a Client with its own http.Client bounded by timeout.
func New(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{URL: url, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}}
}

type envelope struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Post sends in as JSON and decodes the envelope's result into out.
// A null or missing result leaves out untouched.
func (c *Client) Post(ctx context.Context, op string, in, out any) error {
	ctx, span := otel.Tracer("upstream").Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", c.URL)),
	)
	defer span.End()

	err := c.post(ctx, span, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) post(ctx context.Context, span trace.Span, in, out any) error {
	if c.URL == "" {
		return &Error{Message: "service is not configured"}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("upstream: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		msg := "service unreachable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "service timed out"
		}
		return &Error{Message: msg, Err: err}
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &Error{Status: res.StatusCode, Message: "failed to read response", Err: err}
	}

	var env envelope
	decErr := json.Unmarshal(raw, &env)
	ok := res.StatusCode >= 200 && res.StatusCode < 300
	switch {
	case !ok:
		msg := env.Message
		if decErr != nil || msg == "" {
			msg = fmt.Sprintf("request failed (%d)", res.StatusCode)
		}
		return &Error{Status: res.StatusCode, Message: msg}
	case decErr != nil:
		return &Error{Status: res.StatusCode, Message: "malformed response", Err: decErr}
	case !env.OK:
		msg := env.Message
		if msg == "" {
			msg = "request was rejected"
		}
		return &Error{Status: res.StatusCode, Message: msg}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &Error{Status: res.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}
