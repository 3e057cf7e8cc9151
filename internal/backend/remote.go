package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// NoResponseText is the reply used when a successful body carries none of the known fields
const NoResponseText = "No response from API"

// replyPaths are tried in order; the first truthy value wins
var replyPaths = []string{
	"choices.0.message.content",
	"response",
	"message",
}

// ChatMessage is one entry of the request's messages array
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents the request body sent to the chat endpoint
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
}

// StatusError is returned when the endpoint answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}

// Remote calls an HTTP chat endpoint once per reply
type Remote struct {
	endpoint    string
	model       string
	credentials CredentialSource
	httpClient  *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer
	duration    metric.Float64Histogram
}

// RemoteOption customizes a Remote responder
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default client, which has no timeout
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = c }
}

// WithLogger sets the logger used for diagnostics
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// WithTelemetry sets the tracer and meter; the global providers are used otherwise
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) RemoteOption {
	return func(r *Remote) {
		r.tracer = tracer
		r.initDuration(meter)
	}
}

// NewRemote creates a responder posting to endpoint with the given model
func NewRemote(endpoint, model string, credentials CredentialSource, opts ...RemoteOption) *Remote {
	r := &Remote{
		endpoint:    endpoint,
		model:       model,
		credentials: credentials,
		// no Timeout: an exchange always runs to completion
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("metachat/backend"),
	}
	r.initDuration(otel.Meter("metachat/backend"))

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) initDuration(meter metric.Meter) {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		r.logger.Warn("failed to create duration histogram", "error", err)
		return
	}
	r.duration = histogram
}

func (r *Remote) Name() string { return "remote" }

// Reply posts text to the endpoint and extracts the reply from the response body
func (r *Remote) Reply(ctx context.Context, text string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "remote.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.url", r.endpoint),
			attribute.String("llm.model", r.model),
		),
	)
	defer span.End()

	reply, err := r.post(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}

func (r *Remote) post(ctx context.Context, text string) (string, error) {
	start := time.Now()

	reqBody := ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: text}},
		APIKey:   r.credentials.Credential(),
		Model:    r.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if r.duration != nil {
		r.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.Int("http.status_code", resp.StatusCode)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("failed to parse response: body is not JSON")
	}

	return ExtractReply(body), nil
}

// ExtractReply returns the first truthy reply field of a JSON body, or NoResponseText
func ExtractReply(body []byte) string {
	for _, path := range replyPaths {
		if v := gjson.GetBytes(body, path); truthy(v) {
			return v.String()
		}
	}
	return NoResponseText
}

// truthy treats missing, null, false, zero and empty-string values as absent
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}
