// Package api builds the HTTP router the service listens on, wiring every
// handler in internal/api/handlers behind the middleware pipeline spec.md §5
// documents: global rate limit -> auth -> mutating rate limit -> payload
// limit -> approval gate -> handler body. Grounded on the teacher's
// internal/api/router.go, generalized from the alert-publishing route table
// to the CMDB one.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/unifiedcmdb/cmdb-core/internal/api/handlers"
	apimw "github.com/unifiedcmdb/cmdb-core/internal/api/middleware"
	"github.com/unifiedcmdb/cmdb-core/internal/approval"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
	coremw "github.com/unifiedcmdb/cmdb-core/internal/middleware"
	"github.com/unifiedcmdb/cmdb-core/internal/ratelimit"
)

// RouterConfig toggles the optional global middleware the way the
// teacher's DefaultRouterConfig does.
type RouterConfig struct {
	CORSEnabled         bool
	CORSAllowedOrigins  []string
	CompressionEnabled  bool
	MetricsEnabled      bool
	SecurityHeaders     bool
	APIDocsEnabled      bool
	MaxRequestBodyBytes int64
}

// DefaultRouterConfig mirrors the server defaults a fresh deployment runs
// with.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CORSEnabled:         true,
		CompressionEnabled:  true,
		MetricsEnabled:      true,
		SecurityHeaders:     true,
		MaxRequestBodyBytes: 10 << 20,
	}
}

// Dependencies bundles the collaborators the router needs beyond the
// handler methods themselves: the two rate limiters, the authenticator and
// approval gate, and whether the gate is enabled.
type Dependencies struct {
	Logger             *slog.Logger
	Authenticator      *auth.Authenticator
	GlobalLimiter      *ratelimit.Limiter
	MutatingLimiters   *ratelimit.MutatingLimiterSet
	Approval           *approval.Service
	MakerCheckerEnable bool
}

// NewRouter assembles the full route table behind the documented
// middleware pipeline.
func NewRouter(cfg RouterConfig, deps Dependencies, srv *handlers.Server) *mux.Router {
	router := mux.NewRouter()
	router.Use(apimw.CorrelationIDMiddleware)
	router.Use(apimw.LoggingMiddleware(deps.Logger))
	if cfg.MetricsEnabled {
		router.Use(apimw.MetricsMiddleware)
	}
	if cfg.SecurityHeaders {
		sh := coremw.NewSecurityHeadersMiddleware(coremw.DefaultSecurityHeadersConfig())
		router.Use(sh.Handler)
	}
	if cfg.CORSEnabled {
		corsCfg := apimw.DefaultCORSConfig()
		if len(cfg.CORSAllowedOrigins) > 0 {
			corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
		}
		router.Use(apimw.CORSMiddleware(corsCfg))
	}
	if cfg.CompressionEnabled {
		router.Use(apimw.CompressionMiddleware)
	}

	router.HandleFunc("/health", srv.Health).Methods(http.MethodGet)
	if cfg.APIDocsEnabled {
		router.HandleFunc("/openapi.json", openAPIHandler(router)).Methods(http.MethodGet)
		router.PathPrefix("/docs").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.json")))
	}

	global := apimw.GlobalRateLimitMiddleware(deps.GlobalLimiter)
	authn := apimw.AuthMiddleware(deps.Authenticator)
	mutatingRL := apimw.MutatingRateLimitMiddleware(deps.MutatingLimiters)
	payloadLimit := apimw.ContentLengthMiddleware(cfg.MaxRequestBodyBytes)
	gate := apimw.ApprovalGateMiddleware(deps.Approval, deps.MakerCheckerEnable)

	read := func(h http.HandlerFunc, role auth.Role) http.Handler {
		return chain(h, global, authn, apimw.RoleMiddleware(role))
	}
	write := func(h http.HandlerFunc, role auth.Role) http.Handler {
		return chain(h, global, authn, apimw.RoleMiddleware(role), mutatingRL, payloadLimit, apimw.ValidationMiddleware, gate)
	}
	writeExactRole := func(h http.HandlerFunc, roles ...auth.Role) http.Handler {
		return chain(h, global, authn, apimw.ExactRoleMiddleware(roles...), mutatingRL, payloadLimit, apimw.ValidationMiddleware, gate)
	}

	// Ingest: operator, mutating.
	router.Handle("/ingest/cis:bulk", write(srv.IngestCIsBulk, auth.RoleOperator)).Methods(http.MethodPost)
	router.Handle("/ingest/relationships:bulk", write(srv.IngestRelationshipsBulk, auth.RoleOperator)).Methods(http.MethodPost)

	// CIs: viewer reads, operator-only drift resolution.
	router.Handle("/cis", read(srv.ListCIs, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}", read(srv.GetCI, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/graph", read(srv.GetCIGraph, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/audit", read(srv.GetCIAudit, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/identities", read(srv.GetCIIdentities, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/detail", read(srv.GetCIDetail, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/drift", read(srv.GetCIDrift, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/cis/{id}/drift/resolve", write(srv.ResolveCIDrift, auth.RoleOperator)).Methods(http.MethodPost)
	router.Handle("/pickers/cis", read(srv.PickCIs, auth.RoleViewer)).Methods(http.MethodGet)

	// Relationships: viewer reads, operator writes.
	router.Handle("/relationships", read(srv.ListRelationships, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/relationships", write(srv.CreateRelationship, auth.RoleOperator)).Methods(http.MethodPost)
	router.Handle("/relationships/{id}", write(srv.UpdateRelationship, auth.RoleOperator)).Methods(http.MethodPatch)
	router.Handle("/relationships/{id}", write(srv.DeleteRelationship, auth.RoleOperator)).Methods(http.MethodDelete)

	// Governance: viewer reads, operator resolves/reopens.
	router.Handle("/governance/collisions", read(srv.ListCollisions, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/governance/collisions/{id}/resolve", write(srv.ResolveCollision, auth.RoleOperator)).Methods(http.MethodPost)
	router.Handle("/governance/collisions/{id}/reopen", write(srv.ReopenCollision, auth.RoleOperator)).Methods(http.MethodPost)

	// Lifecycle: operator-triggered sweep.
	router.Handle("/lifecycle/run", write(srv.RunLifecycle, auth.RoleOperator)).Methods(http.MethodPost)

	// Audit export: operator.
	router.Handle("/audit/export", read(srv.ExportAudit, auth.RoleOperator)).Methods(http.MethodGet)

	// Integrations: status/listing readable by any authenticated viewer,
	// imports/syncs gated to operator.
	router.Handle("/integrations/status", read(srv.IntegrationsStatus, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/schedules", read(srv.IntegrationSchedules, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/jobs", read(srv.ListIntegrationJobs, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/jobs/{id}", read(srv.GetIntegrationJob, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/netbox/watermarks", read(srv.NetBoxWatermarks, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/netbox/export", read(srv.NetBoxExport, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/netbox/import", write(srv.NetBoxImport, auth.RoleOperator)).Methods(http.MethodPost)
	router.Handle("/integrations/backstage/entities", read(srv.BackstageEntities, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/integrations/backstage/sync", write(srv.BackstageSync, auth.RoleOperator)).Methods(http.MethodPost)

	// Approvals: any authenticated caller lists; creating (the maker side)
	// is restricted to the operator role; deciding a pending approval is
	// restricted to the approver role and never itself passes back through
	// the gate (isExemptFromGate excludes /approvals).
	router.Handle("/approvals", read(srv.ListApprovals, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/approvals", chain(srv.CreateApproval, global, authn, apimw.RoleMiddleware(auth.RoleOperator))).Methods(http.MethodPost)
	router.Handle("/approvals/{id}/approve", writeExactRole(srv.ApproveApproval, auth.RoleApprover)).Methods(http.MethodPost)
	router.Handle("/approvals/{id}/reject", writeExactRole(srv.RejectApproval, auth.RoleApprover)).Methods(http.MethodPost)

	// Dashboard: viewer reads, including the live activity websocket.
	router.Handle("/dashboard/me", read(srv.Me, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/dashboard/summary", read(srv.Summary, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/dashboard/activity", read(srv.Activity, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/dashboard/activity/ws", read(srv.ActivityStream, auth.RoleViewer)).Methods(http.MethodGet)
	router.Handle("/dashboard/alerts", read(srv.Alerts, auth.RoleViewer)).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	return router
}

// chain wires mws around final in the order given: mws[0] is outermost.
func chain(final http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"detail":"not found","error":{"code":"NOT_FOUND","message":"route not found"}}`))
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, _ = w.Write([]byte(`{"detail":"method not allowed","error":{"code":"REQUEST_FAILED","message":"method not allowed"}}`))
}

// openAPIHandler serves the document swaggo/http-swagger's UI reads. No
// swag-annotation toolchain ran over this tree, so rather than fabricate a
// hand-annotated spec this walks the live router's own route table into the
// minimal document shape httpSwagger.Handler needs.
func openAPIHandler(router *mux.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paths := map[string][]string{}
		_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			tmpl, err := route.GetPathTemplate()
			if err != nil {
				return nil
			}
			methods, _ := route.GetMethods()
			paths[tmpl] = append(paths[tmpl], methods...)
			return nil
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"openapi": "3.0.0",
			"info":    map[string]any{"title": "unifiedcmdb core API", "version": "1"},
			"paths":   paths,
		})
	}
}
