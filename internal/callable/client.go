package callable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"attendance.client/internal/ports"
	"attendance.client/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TokenSource yields the identity token sent with every call.
type TokenSource interface {
	Token() string
}

// HTTPClient calls remote procedures over HTTP. The request body is
// {"data": ...}; failures come back as {"error": {"status", "message"}}.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	tokens  TokenSource
	cb      *gobreaker.CircuitBreaker
}

type callRequest struct {
	Data any `json:"data"`
}

type callErrorBody struct {
	Error *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPClient new HTTPClient. A circuit breaker stops hammering the
// backend when most calls fail.
func NewHTTPClient(baseURL string, timeout time.Duration, tokens TokenSource) *HTTPClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	settings := gobreaker.Settings{
		Name:        "Callable-API",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		// Rejections decided by the backend mean it is healthy
		IsSuccessful: func(err error) bool {
			var callErr *ports.CallError
			return err == nil || (errors.As(err, &callErr) && callErr.HTTPCode < http.StatusInternalServerError)
		},
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
		tokens:  tokens,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Call invokes the named procedure with data. A nil data sends no arguments.
func (c *HTTPClient) Call(ctx context.Context, name string, data any) error {
	tracer := otel.Tracer("callable-client")
	ctx, span := tracer.Start(ctx, "callable."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if uid := telemetry.GetUIDFromContext(ctx); uid != "" {
		span.SetAttributes(attribute.String("app.uid", uid))
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, name, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Ctx(ctx).Warn().Str("callable", name).Msg("Circuit breaker is open; skipping callable")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, name string, data any) error {
	payload, err := json.Marshal(callRequest{Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+name, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	callErr := &ports.CallError{Status: http.StatusText(resp.StatusCode), HTTPCode: resp.StatusCode}
	var body callErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != nil {
		if body.Error.Status != "" {
			callErr.Status = body.Error.Status
		}
		callErr.Message = body.Error.Message
	}
	return callErr
}
