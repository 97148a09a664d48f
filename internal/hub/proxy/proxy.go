// Package proxy executes a single forwarding attempt and translates the
// outcome into a client-visible response.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/hub/upstream"
	"github.com/carlossalguero/hub/internal/shared/errors"
	"github.com/carlossalguero/hub/internal/shared/events"
	"github.com/carlossalguero/hub/internal/shared/logger"
	"github.com/carlossalguero/hub/internal/shared/metrics"
)

// Caller abstracts the outbound HTTP client so tests can stub outcomes.
type Caller interface {
	Call(ctx context.Context, method, url string, header http.Header, body []byte, timeout time.Duration) upstream.Outcome
}

// Config holds proxy configuration.
type Config struct {
	Client  Caller
	Ring    *logring.Ring
	Metrics *metrics.Metrics
	Events  *events.Client
	Logger  *logger.Logger
}

// Proxy forwards resolved requests to their upstream. One attempt, no retry.
type Proxy struct {
	client  Caller
	ring    *logring.Ring
	metrics *metrics.Metrics
	events  *events.Client
	logger  *logger.Logger
}

// New creates a Proxy.
func New(cfg Config) *Proxy {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Proxy{
		client:  cfg.Client,
		ring:    cfg.Ring,
		metrics: cfg.Metrics,
		events:  cfg.Events,
		logger:  log.WithComponent("proxy"),
	}
}

// Forward relays one request to the resolved endpoint and writes the reply.
// The target is internal_url + the registered path; inbound path segments
// beyond the service/endpoint prefix are never appended. The inbound query
// string is propagated verbatim.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, svc registry.Service, ep registry.Endpoint) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteHTTP(w, errors.InternalWrap("reading request body", err))
		return
	}

	target := svc.InternalURL + ep.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	header := make(http.Header)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}

	timeout := time.Duration(ep.TimeoutSeconds) * time.Second
	start := time.Now()
	out := p.client.Call(r.Context(), ep.Method, target, header, body, timeout)
	elapsed := time.Since(start)

	p.record(r.Context(), svc.Name, target, out, elapsed)

	switch out.Kind {
	case upstream.KindOK:
		if ct := out.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(out.Status)
		w.Write(out.Body)
	case upstream.KindTimeout:
		errors.WriteHTTP(w, errors.UpstreamTimeout(fmt.Sprintf("%ds", ep.TimeoutSeconds)))
	case upstream.KindUnreachable:
		errors.WriteHTTP(w, errors.UpstreamUnreachable(out.Cause))
	case upstream.KindMalformed:
		errors.WriteHTTP(w, errors.UpstreamMalformed(out.Cause))
	default:
		errors.WriteHTTP(w, errors.Internal("unknown upstream outcome"))
	}
}

// record emits the single FORWARD log entry for this attempt, plus metrics
// and the optional event.
func (p *Proxy) record(ctx context.Context, service, target string, out upstream.Outcome, elapsed time.Duration) {
	latencyMS := elapsed.Milliseconds()

	entry := logring.Entry{
		Timestamp: time.Now().UTC(),
		Level:     "INFO",
		Category:  logring.CategoryForward,
		Context: &logring.Context{
			Service:   service,
			Upstream:  target,
			LatencyMS: latencyMS,
			Status:    out.Status,
		},
	}
	if out.Kind == upstream.KindOK {
		entry.Message = fmt.Sprintf("Forwarded to %s: %d (%dms)", target, out.Status, latencyMS)
	} else {
		entry.Level = "WARNING"
		entry.Message = fmt.Sprintf("Forward to %s failed: %s (%dms)", target, out.Kind, latencyMS)
	}
	if p.ring != nil {
		p.ring.Append(entry)
	}

	if p.metrics != nil {
		p.metrics.RecordForward(service, out.Kind.String(), elapsed)
	}

	if out.Kind == upstream.KindOK {
		p.logger.WithContext(ctx).Info("forwarded request",
			"upstream", target,
			"status", out.Status,
			"latency_ms", latencyMS,
		)
	} else {
		p.logger.WithContext(ctx).Warn("forward failed",
			"upstream", target,
			"outcome", out.Kind.String(),
			"cause", out.Cause,
			"latency_ms", latencyMS,
		)
	}

	if p.events != nil {
		data := map[string]any{
			"service":    service,
			"upstream":   target,
			"outcome":    out.Kind.String(),
			"status":     out.Status,
			"latency_ms": latencyMS,
		}
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.events.PublishForwardEvent(pubCtx, data); err != nil {
				p.logger.Debug("forward event publish failed", "error", err)
			}
		}()
	}
}
