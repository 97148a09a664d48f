package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlossalguero/hub/internal/hub/dispatch"
	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/proxy"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/hub/sweeper"
	"github.com/carlossalguero/hub/internal/hub/upstream"
	"github.com/carlossalguero/hub/internal/shared/clock"
)

// hubFixture wires the full public surface against a manual clock.
type hubFixture struct {
	gateway  *httptest.Server
	registry *registry.Registry
	ring     *logring.Ring
	clock    *clock.Manual
	sweeper  *sweeper.Sweeper
}

func newHub(t *testing.T) *hubFixture {
	t.Helper()

	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.New(clk)
	ring := logring.New(64)

	client := upstream.New(upstream.Config{})
	prx := proxy.New(proxy.Config{Client: client, Ring: ring})
	d := dispatch.New(dispatch.Config{Registry: reg, Proxy: prx, Ring: ring})
	srv := New(Config{Registry: reg, Dispatcher: d, Ring: ring})

	gw := httptest.NewServer(srv.Handler())
	t.Cleanup(gw.Close)

	swp := sweeper.New(sweeper.Config{Registry: reg, Ring: ring})

	return &hubFixture{
		gateway:  gw,
		registry: reg,
		ring:     ring,
		clock:    clk,
		sweeper:  swp,
	}
}

func (f *hubFixture) register(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.gateway.URL+"/register", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return resp, decodeJSON(t, resp)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func registrationFor(internalURL string) string {
	return fmt.Sprintf(`{
		"name": "echo",
		"internal_url": %q,
		"endpoints": [{"path": "/ping", "method": "GET", "timeout": 5}]
	}`, internalURL)
}

func TestHub_HappyPath(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)

	resp, doc := f.register(t, registrationFor(upstreamSrv.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", doc["status"])
	assert.Equal(t, "Service 'echo' registered", doc["message"])
	assert.Equal(t, float64(1), doc["routes_created"])

	service, ok := doc["service"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "echo", service["name"])
	assert.Equal(t, "ACTIVE", service["status"])

	got, err := http.Get(f.gateway.URL + "/echo/ping")
	require.NoError(t, err)
	defer got.Body.Close()
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHub_ForwardTargetLaw(t *testing.T) {
	var seen string
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)
	resp, _ := f.register(t, registrationFor(upstreamSrv.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Get(f.gateway.URL + "/echo/ping?a=1&b=two")
	require.NoError(t, err)
	got.Body.Close()

	// Outbound URL is the registered path plus the inbound query, nothing else.
	assert.Equal(t, "/ping?a=1&b=two", seen)
}

func TestHub_RouteReplacement(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)

	reg1 := fmt.Sprintf(`{"name":"echo","internal_url":%q,"endpoints":[{"path":"/a"},{"path":"/b"}]}`, upstreamSrv.URL)
	resp, doc := f.register(t, reg1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), doc["routes_created"])

	reg2 := fmt.Sprintf(`{"name":"echo","internal_url":%q,"endpoints":[{"path":"/b"},{"path":"/c"}]}`, upstreamSrv.URL)
	resp, _ = f.register(t, reg2)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	post := func(path string) int {
		resp, err := http.Post(f.gateway.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, post("/echo/a"), "dropped endpoint must 404")
	assert.Equal(t, http.StatusOK, post("/echo/b"))
	assert.Equal(t, http.StatusOK, post("/echo/c"))
}

func TestHub_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		upstreamSrv.Close()
	}()

	f := newHub(t)
	body := fmt.Sprintf(`{"name":"echo","internal_url":%q,"endpoints":[{"path":"/slow","timeout":1}]}`, upstreamSrv.URL)
	resp, _ := f.register(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	start := time.Now()
	got, err := http.Post(f.gateway.URL+"/echo/slow", "application/json", nil)
	require.NoError(t, err)
	elapsed := time.Since(start)

	doc := decodeJSON(t, got)
	assert.Equal(t, http.StatusGatewayTimeout, got.StatusCode)
	assert.Equal(t, "Upstream timeout", doc["error"])
	assert.Equal(t, "1s", doc["details"])
	assert.Less(t, elapsed, 3*time.Second, "504 must arrive shortly after the endpoint timeout")
}

func TestHub_UpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	f := newHub(t)
	body := fmt.Sprintf(`{"name":"echo","internal_url":%q,"endpoints":[{"path":"/op"}]}`, deadURL)
	resp, _ := f.register(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Post(f.gateway.URL+"/echo/op", "application/json", nil)
	require.NoError(t, err)

	doc := decodeJSON(t, got)
	assert.Equal(t, http.StatusBadGateway, got.StatusCode)
	assert.Equal(t, "Internal service error", doc["error"])
	assert.Equal(t, "UPSTREAM_UNREACHABLE", doc["code"])
}

func TestHub_StatusPassthrough(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("I'm a teapot"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)
	resp, _ := f.register(t, registrationFor(upstreamSrv.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Get(f.gateway.URL + "/echo/ping")
	require.NoError(t, err)
	defer got.Body.Close()
	body, _ := io.ReadAll(got.Body)

	assert.Equal(t, http.StatusTeapot, got.StatusCode)
	assert.Equal(t, "I'm a teapot", string(body))
}

func TestHub_StaleThenEvict(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)
	body := fmt.Sprintf(`{"name":"s","internal_url":%q,"endpoints":[{"path":"/op"}]}`, upstreamSrv.URL)
	resp, _ := f.register(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// t = 16 min: stale, but still forwarding.
	f.clock.Advance(16 * time.Minute)
	f.sweeper.Sweep(context.Background())

	got, err := http.Post(f.gateway.URL+"/s/op", "application/json", nil)
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode, "stale service must still forward")

	svc, _, ok := f.registry.Lookup("s", "POST", "/op")
	require.True(t, ok)
	assert.Equal(t, registry.StatusStale, svc.Status)

	// t = 61 min: evicted.
	f.clock.Advance(45 * time.Minute)
	f.sweeper.Sweep(context.Background())

	got, err = http.Post(f.gateway.URL+"/s/op", "application/json", nil)
	require.NoError(t, err)
	doc := decodeJSON(t, got)
	assert.Equal(t, http.StatusNotFound, got.StatusCode)
	assert.Equal(t, "NO_ROUTE", doc["code"])
}

func TestHub_ReservedName(t *testing.T) {
	f := newHub(t)

	body := `{"name":"register","internal_url":"http://x.local","endpoints":[{"path":"/op"}]}`
	resp, doc := f.register(t, body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "RESERVED_NAME", doc["code"])

	dash, err := http.Get(f.gateway.URL + "/")
	require.NoError(t, err)
	dashDoc := decodeJSON(t, dash)
	assert.Equal(t, float64(0), dashDoc["service_count"], "dashboard must still report zero services")
}

func TestHub_InvalidRegistration(t *testing.T) {
	f := newHub(t)

	t.Run("malformed body", func(t *testing.T) {
		resp, doc := f.register(t, "{not json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_REGISTRATION", doc["code"])
	})

	t.Run("details name the offending field", func(t *testing.T) {
		body := `{"name":"x","internal_url":"x.local","endpoints":[{"path":"/op"}]}`
		resp, doc := f.register(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_REGISTRATION", doc["code"])
		assert.Equal(t, "internal_url", doc["details"])
	})

	t.Run("method not allowed on register", func(t *testing.T) {
		resp, err := http.Get(f.gateway.URL + "/register")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestHub_Dashboard(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)
	resp, _ := f.register(t, registrationFor(upstreamSrv.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Get(f.gateway.URL + "/")
	require.NoError(t, err)
	doc := decodeJSON(t, got)

	assert.Equal(t, "running", doc["hub_status"])
	assert.Equal(t, "service_registration", doc["mode"])
	assert.Equal(t, float64(1), doc["service_count"])

	services, ok := doc["services"].(map[string]any)
	require.True(t, ok)
	echo, ok := services["echo"].(map[string]any)
	require.True(t, ok)

	endpoints, ok := echo["endpoints"].([]any)
	require.True(t, ok)
	require.Len(t, endpoints, 1)
	ep := endpoints[0].(map[string]any)
	assert.Equal(t, "/ping", ep["path"])
	assert.Equal(t, "GET", ep["method"])
	assert.Equal(t, float64(5), ep["timeout"])

	logs, ok := doc["logs"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, logs)
	newest := logs[0].(map[string]any)
	assert.Equal(t, "REGISTER", newest["category"])
}

func TestHub_RegistrationActsAsHeartbeat(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newHub(t)
	body := fmt.Sprintf(`{"name":"s","internal_url":%q,"endpoints":[{"path":"/op"}]}`, upstreamSrv.URL)

	resp, _ := f.register(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.clock.Advance(16 * time.Minute)
	f.sweeper.Sweep(context.Background())

	// Re-registration resets status to ACTIVE.
	resp, _ = f.register(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	svc, _, ok := f.registry.Lookup("s", "POST", "/op")
	require.True(t, ok)
	assert.Equal(t, registry.StatusActive, svc.Status)
}
