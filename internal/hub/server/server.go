// Package server provides the hub's public admin/ingress surface: service
// registration, the dashboard, and the catch-all that feeds the dispatcher.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carlossalguero/hub/internal/hub/dispatch"
	"github.com/carlossalguero/hub/internal/hub/export"
	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/shared/errors"
	"github.com/carlossalguero/hub/internal/shared/events"
	"github.com/carlossalguero/hub/internal/shared/logger"
	"github.com/carlossalguero/hub/internal/shared/metrics"
)

// maxRegistrationBytes bounds a registration body.
const maxRegistrationBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Ring       *logring.Ring
	Metrics    *metrics.Metrics
	Events     *events.Client
	Exporter   *export.Exporter
	Logger     *logger.Logger
}

// Server is the public HTTP surface.
type Server struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	ring       *logring.Ring
	metrics    *metrics.Metrics
	events     *events.Client
	exporter   *export.Exporter
	logger     *logger.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		ring:       cfg.Ring,
		metrics:    cfg.Metrics,
		events:     cfg.Events,
		exporter:   cfg.Exporter,
		logger:     log.WithComponent("server"),
	}
}

// SetExporter attaches the snapshot exporter. The exporter consumes
// DashboardPayload, so it is wired after construction.
func (s *Server) SetExporter(e *export.Exporter) {
	s.exporter = e
}

// Handler returns the public handler. The HTTP surface is a single catch-all:
// reserved paths are answered here, everything else goes to the dispatcher,
// which consults the registry at request time. No router mutation is needed
// when services come and go.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			s.handleDashboard(w, r)
		case "/register":
			s.handleRegister(w, r)
		default:
			s.dispatcher.ServeHTTP(w, r)
		}
	})
}

// registerResponse is the success envelope for POST /register.
type registerResponse struct {
	Status        string           `json:"status"`
	Message       string           `json:"message"`
	Service       registry.Service `json:"service"`
	RoutesCreated int              `json:"routes_created"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reg registry.Registration
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBytes))
	if err := dec.Decode(&reg); err != nil {
		s.reject(r.Context(), reg.Name, errors.InvalidRegistration("body"))
		errors.WriteHTTP(w, errors.InvalidRegistration("body"))
		return
	}

	record, result, err := s.registry.Upsert(reg)
	if err != nil {
		s.reject(r.Context(), reg.Name, err)
		errors.WriteHTTP(w, err)
		return
	}

	s.noteRegistered(r.Context(), record, result)

	s.writeJSON(w, http.StatusOK, registerResponse{
		Status:        "success",
		Message:       fmt.Sprintf("Service '%s' registered", record.Name),
		Service:       record,
		RoutesCreated: len(record.Endpoints),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.DashboardPayload())
}

// DashboardPayload builds the GET / document from consistent registry and
// ring snapshots. The exporter reuses it for the Redis mirror.
func (s *Server) DashboardPayload() any {
	records := s.registry.Snapshot()
	services := make(map[string]registry.Service, len(records))
	for _, rec := range records {
		services[rec.Name] = rec
	}

	return map[string]any{
		"hub_status":    "running",
		"mode":          "service_registration",
		"services":      services,
		"service_count": len(services),
		"logs":          s.ring.Snapshot(),
		"endpoints": map[string]string{
			"register":  "POST /register - Register a service",
			"dashboard": "GET / - View this dashboard",
		},
	}
}

func (s *Server) noteRegistered(ctx context.Context, record registry.Service, result registry.Result) {
	s.ring.Append(logring.Entry{
		Timestamp: time.Now().UTC(),
		Level:     "INFO",
		Category:  logring.CategoryRegister,
		Message:   fmt.Sprintf("Service '%s' registered successfully", record.Name),
		Context: &logring.Context{
			Service:  record.Name,
			Upstream: record.InternalURL,
		},
	})
	s.logger.WithContext(ctx).Info("service registered",
		"name", record.Name,
		"internal_url", record.InternalURL,
		"routes", len(record.Endpoints),
		"result", string(result),
	)

	if s.metrics != nil {
		s.metrics.RecordRegistration(string(result))
		s.metrics.SetRegisteredServices(s.registry.Len())
	}

	if s.events != nil {
		eventType := events.EventServiceRegistered
		if result == registry.ResultRefreshed {
			eventType = events.EventServiceRefreshed
		}
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.events.PublishRegistryEvent(pubCtx, eventType, record.Name, map[string]any{
				"internal_url": record.InternalURL,
				"routes":       len(record.Endpoints),
			}); err != nil {
				s.logger.Debug("registry event publish failed", "error", err)
			}
		}()
	}

	if s.exporter != nil {
		go s.exporter.Publish(context.Background())
	}
}

func (s *Server) reject(ctx context.Context, rawName string, err error) {
	s.ring.Append(logring.Entry{
		Timestamp: time.Now().UTC(),
		Level:     "WARNING",
		Category:  logring.CategoryReject,
		Message:   fmt.Sprintf("Registration rejected for '%s': %s", registry.SanitizeName(rawName), errors.GetCode(err)),
	})
	s.logger.WithContext(ctx).WithError(err).Warn("registration rejected", "name", rawName)

	if s.metrics != nil {
		s.metrics.RecordRegistration("rejected")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
