// Package client talks to the agent service: it posts chat messages to the
// streaming endpoint and decodes the event stream it answers with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"StreamChat/internal/backend"
	"StreamChat/internal/stream"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// maxErrorBody caps how much of a failed response is quoted in errors
const maxErrorBody = 512

// Client is an HTTP client for the agent service
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter

	duration metric.Float64Histogram
	events   metric.Int64Counter
	failures metric.Int64Counter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTelemetry records spans and metrics through the given providers
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(c *Client) {
		c.tracer = tracer
		c.meter = meter
	}
}

// WithRequestTimeout bounds a whole exchange, including reading the stream
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the streaming endpoint. Other service paths are
// resolved against the endpoint's origin.
func New(endpoint string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}

	c := &Client{
		endpoint: u,
		// No client timeout; streams stay open as long as the server writes
		httpClient: &http.Client{},
		logger:     logger,
		tracer:     tracenoop.NewTracerProvider().Tracer("streamchat"),
		meter:      metricnoop.NewMeterProvider().Meter("streamchat"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.duration, err = c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	c.events, err = c.meter.Int64Counter(
		"chat.stream.events",
		metric.WithDescription("Events decoded from chat streams"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	c.failures, err = c.meter.Int64Counter(
		"chat.stream.parse_failures",
		metric.WithDescription("Event records that could not be decoded"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parse failure counter: %w", err)
	}

	return c, nil
}

// Endpoint returns the streaming endpoint URL
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Stream posts message and calls handle for every record decoded from the
// response, in order, until the server ends the stream. Transport and read
// failures are returned; malformed records are passed to handle with Err set.
func (c *Client) Stream(ctx context.Context, message, sessionID string, handle func(stream.Result)) (err error) {
	ctx, span := c.tracer.Start(ctx, "chat_stream",
		trace.WithAttributes(attribute.Bool("chat.session.present", sessionID != "")),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("http.route", c.endpoint.Path)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	jsonData, err := json.Marshal(backend.NewChatRequest(message, sessionID))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	c.logger.Debug("chat stream opened", "status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))

	var count int
	err = stream.Decode(ctx, resp.Body, func(res stream.Result) {
		count++
		if res.OK() {
			c.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(res.Event.Type))))
		} else {
			c.failures.Add(ctx, 1)
		}
		handle(res)
	})
	span.SetAttributes(attribute.Int("chat.stream.records", count))
	if err != nil {
		return err
	}

	c.logger.Debug("chat stream closed", "records", count, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// SessionInfo looks up what the server knows about a session
func (c *Client) SessionInfo(ctx context.Context, sessionID string) (backend.SessionInfo, error) {
	ctx, span := c.tracer.Start(ctx, "session_info")
	defer span.End()

	var info backend.SessionInfo
	if err := c.getJSON(ctx, pathRef(backend.PathSession, sessionID), &info); err != nil {
		span.RecordError(err)
		return backend.SessionInfo{}, err
	}
	return info, nil
}

// Health queries the service health endpoint
func (c *Client) Health(ctx context.Context) (backend.HealthStatus, error) {
	ctx, span := c.tracer.Start(ctx, "health_check")
	defer span.End()

	var status backend.HealthStatus
	if err := c.getJSON(ctx, pathRef(backend.PathHealth), &status); err != nil {
		span.RecordError(err)
		return backend.HealthStatus{}, err
	}
	return status, nil
}

// pathRef builds a reference to prefix followed by elems, each escaped as a
// single path segment
func pathRef(prefix string, elems ...string) *url.URL {
	ref := &url.URL{Path: prefix, RawPath: prefix}
	for _, e := range elems {
		ref.Path += e
		ref.RawPath += url.PathEscape(e)
	}
	return ref
}

func (c *Client) resolve(ref *url.URL) string {
	return c.endpoint.ResolveReference(ref).String()
}

func (c *Client) getJSON(ctx context.Context, ref *url.URL, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(ref), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: %s - %s", ErrUnexpectedStatus, resp.Status, bytes.TrimSpace(body))
}
