// Package upstream issues outbound HTTP calls with a total wall-clock bound
// and classifies the outcome for the proxy.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/carlossalguero/hub/internal/shared/tracing"
)

// Kind classifies the result of an outbound call. Any HTTP status, including
// 4xx/5xx, is KindOK; the other kinds are transport-level failures.
type Kind int

const (
	// KindOK means a response arrived and was fully read.
	KindOK Kind = iota
	// KindTimeout means the deadline elapsed before response headers.
	KindTimeout
	// KindUnreachable means DNS failure, connection refused/reset, or TLS error.
	KindUnreachable
	// KindMalformed means a response arrived but could not be read in full.
	KindMalformed
)

// String returns the metric/log label for a kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one outbound call.
type Outcome struct {
	Kind   Kind
	Status int
	Header http.Header
	Body   []byte
	Cause  string
}

// DefaultMaxBodyBytes caps how much of an upstream response is buffered.
const DefaultMaxBodyBytes = 10 << 20

// Config holds client configuration.
type Config struct {
	Transport    http.RoundTripper
	MaxBodyBytes int64
}

// Client performs outbound calls. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	maxBody    int64
}

// New creates a Client. The zero Config uses a tuned transport and the
// default body cap.
func New(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Client{
		// Per-call deadlines come from the request context, not the client.
		httpClient: &http.Client{Transport: transport},
		maxBody:    maxBody,
	}
}

// Call issues one request with the given timeout as a total bound covering
// connect, send, and receive. The passed context carries inbound
// cancellation, so a disconnected client aborts the upstream call.
func (c *Client) Call(ctx context.Context, method, url string, header http.Header, body []byte, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			attribute.String("url.full", url),
		),
	)
	defer span.End()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		span.SetAttributes(attribute.String("outcome", "unreachable"))
		return Outcome{Kind: KindUnreachable, Cause: err.Error()}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		out := classifyTransportError(err)
		span.SetAttributes(attribute.String("outcome", out.Kind.String()))
		return out
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		span.SetAttributes(attribute.String("outcome", "malformed"))
		return Outcome{Kind: KindMalformed, Cause: fmt.Sprintf("reading response body: %v", err)}
	}
	if int64(len(data)) > c.maxBody {
		span.SetAttributes(attribute.String("outcome", "malformed"))
		return Outcome{Kind: KindMalformed, Cause: fmt.Sprintf("response body exceeds %d bytes", c.maxBody)}
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	return Outcome{
		Kind:   KindOK,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}
}

func classifyTransportError(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: KindTimeout, Cause: "deadline elapsed before response headers"}
	}
	if errors.Is(err, context.Canceled) {
		return Outcome{Kind: KindUnreachable, Cause: "request canceled"}
	}
	return Outcome{Kind: KindUnreachable, Cause: err.Error()}
}
