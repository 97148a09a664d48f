package registry

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/carlossalguero/hub/internal/shared/errors"
)

// nameRE is the permitted charset for sanitized service names.
var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// allowedMethods is the set of forwardable HTTP methods.
var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

const (
	defaultMethod  = "POST"
	defaultTimeout = 30
	minTimeout     = 1
	maxTimeout     = 600
)

// reservedNames are first path segments owned by the hub itself. A service
// may never shadow them.
var reservedNames = map[string]bool{
	"register": true,
}

// SanitizeName normalizes a raw service name: trimmed, lowercased, internal
// whitespace collapsed to single dashes.
func SanitizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(name), "-")
}

// validate checks a registration request and returns the normalized endpoint
// list. Each failure carries a distinct error kind; details name the first
// offending field.
func validate(reg Registration) (name string, internalURL string, endpoints []Endpoint, err error) {
	name = SanitizeName(reg.Name)
	if name == "" || reservedNames[name] {
		return "", "", nil, errors.ReservedName(name)
	}
	if !nameRE.MatchString(name) {
		return "", "", nil, errors.InvalidRegistration("name")
	}

	u, parseErr := url.Parse(strings.TrimSpace(reg.InternalURL))
	if parseErr != nil || !u.IsAbs() {
		return "", "", nil, errors.InvalidRegistration("internal_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", nil, errors.InvalidRegistration("internal_url")
	}
	if u.Host == "" || u.RawQuery != "" || u.Fragment != "" {
		return "", "", nil, errors.InvalidRegistration("internal_url")
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", nil, errors.InvalidRegistration("internal_url")
	}
	internalURL = u.Scheme + "://" + u.Host

	if len(reg.Endpoints) == 0 {
		return "", "", nil, errors.InvalidRegistration("endpoints")
	}

	endpoints = make([]Endpoint, 0, len(reg.Endpoints))
	seen := make(map[routeKey]bool, len(reg.Endpoints))
	for _, spec := range reg.Endpoints {
		ep, epErr := normalizeEndpoint(spec)
		if epErr != nil {
			return "", "", nil, epErr
		}

		key := routeKey{method: ep.Method, path: ep.Path}
		if seen[key] {
			return "", "", nil, errors.InvalidRegistration("endpoints")
		}
		seen[key] = true
		endpoints = append(endpoints, ep)
	}

	return name, internalURL, endpoints, nil
}

func normalizeEndpoint(spec EndpointSpec) (Endpoint, error) {
	if !strings.HasPrefix(spec.Path, "/") {
		return Endpoint{}, errors.InvalidRegistration("path")
	}
	if strings.ContainsAny(spec.Path, "?#") || strings.Contains(spec.Path, "//") {
		return Endpoint{}, errors.InvalidRegistration("path")
	}

	method := defaultMethod
	if spec.Method != "" {
		method = strings.ToUpper(spec.Method)
		if !allowedMethods[method] {
			return Endpoint{}, errors.InvalidRegistration("method")
		}
	}

	timeout := defaultTimeout
	if spec.Timeout != nil {
		timeout = *spec.Timeout
		if timeout < minTimeout || timeout > maxTimeout {
			return Endpoint{}, errors.InvalidRegistration("timeout")
		}
	}

	return Endpoint{
		Path:           spec.Path,
		Method:         method,
		TimeoutSeconds: timeout,
		Description:    spec.Description,
		InputSchema:    spec.InputSchema,
	}, nil
}
