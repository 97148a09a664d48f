// Package dispatch resolves public paths against the registry and drives the
// proxy. Routes are never enumerated per request; resolution is one keyed
// lookup.
package dispatch

import (
	"net/http"
	"strings"
	"time"

	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/proxy"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/shared/errors"
	"github.com/carlossalguero/hub/internal/shared/logger"
)

// Dispatcher translates /<service>/<endpoint-path> requests into upstream
// forwards.
type Dispatcher struct {
	registry *registry.Registry
	proxy    *proxy.Proxy
	ring     *logring.Ring
	logger   *logger.Logger
}

// Config holds dispatcher configuration.
type Config struct {
	Registry *registry.Registry
	Proxy    *proxy.Proxy
	Ring     *logring.Ring
	Logger   *logger.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		proxy:    cfg.Proxy,
		ring:     cfg.Ring,
		logger:   log.WithComponent("dispatch"),
	}
}

// SplitPath separates an inbound path into the service segment and the
// endpoint path (leading slash preserved). ok is false when there is no
// service segment.
func SplitPath(path string) (service, endpointPath string, ok bool) {
	if !strings.HasPrefix(path, "/") {
		return "", "", false
	}
	rest := path[1:]
	if rest == "" {
		return "", "", false
	}

	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx], rest[idx:], rest[:idx] != ""
	}
	// Bare "/<service>" has no endpoint path; nothing can match it because
	// registered paths always begin with "/".
	return rest, "", true
}

// ServeHTTP resolves the request and forwards it, or answers 404 NO_ROUTE.
// The registry is consulted exactly once and released before the upstream
// call begins.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service, endpointPath, ok := SplitPath(r.URL.Path)
	if !ok {
		d.reject(w, r)
		return
	}

	svc, ep, found := d.registry.Lookup(service, r.Method, endpointPath)
	if !found {
		d.reject(w, r)
		return
	}

	d.proxy.Forward(w, r, svc, ep)
}

func (d *Dispatcher) reject(w http.ResponseWriter, r *http.Request) {
	detail := r.Method + " " + r.URL.Path

	if d.ring != nil {
		d.ring.Append(logring.Entry{
			Timestamp: time.Now().UTC(),
			Level:     "WARNING",
			Category:  logring.CategoryReject,
			Message:   "No route for " + detail,
		})
	}
	d.logger.WithContext(r.Context()).Warn("no route", "method", r.Method, "path", r.URL.Path)

	errors.WriteHTTP(w, errors.NoRoute(detail))
}
