// Package handlers implements the HTTP surface of the CMDB core service
// (spec.md §6). Each file groups the handlers for one resource family;
// Server carries the shared dependencies every handler needs and the
// small helpers (query-param parsing, JSON responses) common to all of
// them, the way the teacher's cmd/server/handlers package wires a
// WebhookHTTPHandler from its own focused dependency set.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/approval"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
	"github.com/unifiedcmdb/cmdb-core/internal/cache"
	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/config"
	"github.com/unifiedcmdb/cmdb-core/internal/drift"
	"github.com/unifiedcmdb/cmdb-core/internal/governance"
	"github.com/unifiedcmdb/cmdb-core/internal/integrations"
	"github.com/unifiedcmdb/cmdb-core/internal/lifecycle"
	"github.com/unifiedcmdb/cmdb-core/internal/queue"
	"github.com/unifiedcmdb/cmdb-core/internal/realtime"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
	"github.com/unifiedcmdb/cmdb-core/internal/scheduler"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
	"github.com/unifiedcmdb/cmdb-core/internal/telemetry"
)

// Server holds every collaborator a handler may need. It is built once in
// cmd/server/main.go and its methods are registered as mux.Router routes.
type Server struct {
	Store         store.Store
	Reconciler    *reconciler.Reconciler
	Governance    *governance.Service
	Lifecycle     *lifecycle.Service
	Publisher     *integrations.Publisher
	NetBoxImport  *integrations.NetBoxImporter
	Drift         *drift.Detector
	Queue         *queue.Worker
	Scheduler     *scheduler.Scheduler
	Approval      *approval.Service
	Telemetry     *telemetry.Recorder
	Cache         *cache.Cache
	EventBus      realtime.EventBus
	EventPub      *realtime.EventPublisher
	Authenticator *auth.Authenticator
	Clock         clock.Clock
	Logger        *slog.Logger
	App           config.AppConfig
	Integrations  config.IntegrationsConfig
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Error("failed to encode response body", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err *apierrors.Error) {
	apierrors.Write(w, err.WithRequestID(requestIDFromRequest(r)))
}

func requestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

// queryIntDefault parses a positive integer query param, clamping it to
// [min, max] and falling back to def when absent or unparsable.
func queryIntDefault(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func principalID(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.ID
	}
	return "service:unknown"
}

// decodeJSON decodes the request body into dest, writing a 422 validation
// error and returning false on malformed JSON.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, r, apierrors.ValidationError("request body is not valid JSON"))
		return false
	}
	return true
}

// decodeOptionalJSON decodes a possibly-empty request body, leaving dest
// untouched (and returning nil) when there is no body to read.
func (s *Server) decodeOptionalJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		return nil
	}
	return nil
}

func principalScope(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return string(p.Role)
	}
	return string(auth.RoleViewer)
}
