// Package registry is the authoritative in-memory store of registered
// services. It is the single source of truth for routing: a record is in the
// registry iff its routes resolve.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/carlossalguero/hub/internal/shared/clock"
)

// Registry holds service records keyed by sanitized name.
//
// All mutation happens under the write lock; lookups copy out what forwarding
// needs so the lock is never held across upstream I/O.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry
	clock    clock.Clock
}

// New creates an empty Registry using the given clock for heartbeat math.
func New(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{
		services: make(map[string]*entry),
		clock:    clk,
	}
}

// Upsert validates a registration and atomically replaces or inserts the
// record. Re-registration fully replaces the endpoint list, refreshes the
// heartbeat, and resets status to ACTIVE.
func (r *Registry) Upsert(reg Registration) (Service, Result, error) {
	name, internalURL, endpoints, err := validate(reg)
	if err != nil {
		return Service{}, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()

	result := ResultCreated
	firstSeen := now
	if prev, ok := r.services[name]; ok {
		result = ResultRefreshed
		firstSeen = prev.record.FirstSeen
	}

	record := Service{
		Name:          name,
		InternalURL:   internalURL,
		Endpoints:     endpoints,
		FirstSeen:     firstSeen,
		LastHeartbeat: now,
		Status:        StatusActive,
	}
	r.services[name] = &entry{
		record: record,
		index:  buildIndex(endpoints),
	}

	return copyRecord(record), result, nil
}

// Lookup resolves (service, method, path) to the stored record and the
// matching endpoint. The match is exact: no prefix, no wildcard, trailing
// slash significant. Returned values are copies.
func (r *Registry) Lookup(service, method, path string) (Service, Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[service]
	if !ok {
		return Service{}, Endpoint{}, false
	}

	i, ok := e.index[routeKey{method: method, path: path}]
	if !ok {
		return Service{}, Endpoint{}, false
	}

	return copyRecord(e.record), e.record.Endpoints[i], true
}

// MarkStaleOlderThan transitions ACTIVE records whose heartbeat is older than
// now-threshold to STALE and returns their names.
func (r *Registry) MarkStaleOlderThan(threshold time.Duration) []string {
	cutoff := r.clock.Now().Add(-threshold)

	r.mu.Lock()
	defer r.mu.Unlock()

	var marked []string
	for name, e := range r.services {
		if e.record.Status == StatusActive && e.record.LastHeartbeat.Before(cutoff) {
			e.record.Status = StatusStale
			marked = append(marked, name)
		}
	}
	sort.Strings(marked)
	return marked
}

// EvictOlderThan removes records whose heartbeat is older than now-threshold,
// regardless of status, and returns their names. Once this returns, no lookup
// for an evicted service succeeds.
func (r *Registry) EvictOlderThan(threshold time.Duration) []string {
	cutoff := r.clock.Now().Add(-threshold)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for name, e := range r.services {
		if e.record.LastHeartbeat.Before(cutoff) {
			delete(r.services, name)
			evicted = append(evicted, name)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Snapshot returns a consistent copy of all records, sorted by name.
func (r *Registry) Snapshot() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, copyRecord(e.record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
