package registry

import "time"

// Status is the liveness state of a registered service.
type Status string

const (
	// StatusActive marks a service with a fresh heartbeat.
	StatusActive Status = "ACTIVE"
	// StatusStale marks a service past the stale threshold. Stale services
	// remain resolvable; only eviction removes routes.
	StatusStale Status = "STALE"
)

// Endpoint is a single callable operation owned by a service. Immutable once
// stored in the registry.
type Endpoint struct {
	Path           string            `json:"path"`
	Method         string            `json:"method"`
	TimeoutSeconds int               `json:"timeout"`
	Description    string            `json:"description,omitempty"`
	InputSchema    map[string]string `json:"input_schema,omitempty"`
}

// Service is the stored record for a registered backend.
type Service struct {
	Name          string     `json:"name"`
	InternalURL   string     `json:"internal_url"`
	Endpoints     []Endpoint `json:"endpoints"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Status        Status     `json:"status"`
}

// EndpointSpec is the wire shape of an endpoint in a registration request.
// Timeout is a pointer so an absent value (default 30) can be told apart from
// an explicit, invalid zero.
type EndpointSpec struct {
	Path        string            `json:"path"`
	Method      string            `json:"method,omitempty"`
	Timeout     *int              `json:"timeout,omitempty"`
	Description string            `json:"description,omitempty"`
	InputSchema map[string]string `json:"input_schema,omitempty"`
}

// Registration is the wire shape of a POST /register body.
type Registration struct {
	Name        string         `json:"name"`
	InternalURL string         `json:"internal_url"`
	Endpoints   []EndpointSpec `json:"endpoints"`
}

// Result reports whether an upsert created a new record or refreshed an
// existing one.
type Result string

const (
	ResultCreated   Result = "created"
	ResultRefreshed Result = "refreshed"
)

// routeKey identifies one endpoint within a service.
type routeKey struct {
	method string
	path   string
}

// entry is the internal registry slot for one service: the public record plus
// an index for O(1) endpoint lookup.
type entry struct {
	record Service
	index  map[routeKey]int
}

func buildIndex(endpoints []Endpoint) map[routeKey]int {
	idx := make(map[routeKey]int, len(endpoints))
	for i, ep := range endpoints {
		idx[routeKey{method: ep.Method, path: ep.Path}] = i
	}
	return idx
}

// copyRecord returns a Service safe to hand out after the lock is released.
func copyRecord(s Service) Service {
	out := s
	out.Endpoints = make([]Endpoint, len(s.Endpoints))
	copy(out.Endpoints, s.Endpoints)
	return out
}
