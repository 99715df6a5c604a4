package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/integrations"
	"github.com/unifiedcmdb/cmdb-core/internal/queue"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// IntegrationsStatus handles GET /integrations/status.
func (s *Server) IntegrationsStatus(w http.ResponseWriter, r *http.Request) {
	watermarks, err := s.netboxWatermarks(r)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to load netbox watermarks"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"unified_cmdb_name": s.App.Name,
		"netbox": map[string]any{
			"enabled":       s.Integrations.NetBoxSyncEnabled,
			"configured":    s.Integrations.NetBoxBaseURL != "",
			"api_configured": s.Integrations.NetBoxBaseURL != "" && s.Integrations.NetBoxToken != "",
			"watermarks":    watermarks,
		},
		"backstage": map[string]any{
			"enabled":           s.Integrations.BackstageSyncEnabled,
			"configured":        s.Integrations.BackstageBaseURL != "",
			"token_configured":  s.Integrations.BackstageToken != "",
			"legacy_secret_set": s.Integrations.BackstageSigningKey != "",
		},
	})
}

// IntegrationSchedules handles GET /integrations/schedules, listing the
// background scheduler's configured jobs and their next run time. Not part
// of the original route table; added because an operator watching
// /integrations/status has no way to see when the next netbox-import or
// backstage-sync tick is due.
func (s *Server) IntegrationSchedules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"schedules": s.scheduleSummaries(r.Context())})
}

func (s *Server) netboxWatermarks(r *http.Request) (map[string]string, error) {
	states, err := s.Store.ListSyncState(r.Context())
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, state := range states {
		out[state.Key] = state.Value
	}
	return out, nil
}

// ListIntegrationJobs handles GET /integrations/jobs.
func (s *Server) ListIntegrationJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 50, 1, 200)
	status := r.URL.Query().Get("status")
	jobs, err := s.Store.ListSyncJobs(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list integration jobs"))
		return
	}
	s.writeJSON(w, http.StatusOK, toSyncJobResponses(jobs))
}

// GetIntegrationJob handles GET /integrations/jobs/{id}.
func (s *Server) GetIntegrationJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Store.GetSyncJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apierrors.NotFound("integration job"))
		return
	}
	s.writeJSON(w, http.StatusOK, toSyncJobResponse(job))
}

// NetBoxWatermarks handles GET /integrations/netbox/watermarks.
func (s *Server) NetBoxWatermarks(w http.ResponseWriter, r *http.Request) {
	watermarks, err := s.netboxWatermarks(r)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to load netbox watermarks"))
		return
	}
	s.writeJSON(w, http.StatusOK, watermarks)
}

// NetBoxExport handles GET /integrations/netbox/export.
func (s *Server) NetBoxExport(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 1000, 1, 10000)
	cis, err := s.Store.ListCIs(r.Context(), store.CIFilter{Limit: limit})
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}
	rels, err := s.Store.ListAllRelationships(r.Context())
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list relationships"))
		return
	}

	ciItems := make([]map[string]any, 0, len(cis))
	for _, ci := range cis {
		ciItems = append(ciItems, map[string]any{
			"id":           ci.ID,
			"name":         ci.Name,
			"ci_type":      ci.CIType,
			"status":       string(ci.Status),
			"owner":        ci.Owner,
			"attributes":   ci.Attributes,
			"source":       ci.Source,
			"last_seen_at": ci.LastSeenAt,
		})
	}
	relItems := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		relItems = append(relItems, map[string]any{
			"source_ci_id":  rel.SourceCIID,
			"target_ci_id":  rel.TargetCIID,
			"relation_type": rel.RelationType,
			"source":        rel.Source,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"source":        s.App.Name,
		"cis":           ciItems,
		"relationships": relItems,
	})
}

// NetBoxImport handles POST /integrations/netbox/import?limit&dryRun&incremental&asyncJob.
func (s *Server) NetBoxImport(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 500, 1, 5000)
	if limit > s.App.MaxBulkItems {
		s.writeError(w, r, apierrors.ValidationError("requested limit exceeds configured max_bulk_items"))
		return
	}
	dryRun := queryBool(r, "dryRun", false)
	asyncJob := queryBool(r, "asyncJob", false)

	if asyncJob {
		requestedBy := principalID(r)
		job, err := s.Queue.Enqueue(r.Context(), queue.JobTypeNetBoxImport, map[string]any{
			"limit":   limit,
			"dry_run": dryRun,
		}, &requestedBy, 0)
		if err != nil {
			s.writeError(w, r, apierrors.Internal("failed to enqueue netbox import job"))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"job_id":    job.ID,
			"job_type":  job.JobType,
			"status":    string(job.Status),
			"queued_at": job.CreatedAt,
		})
		return
	}

	if s.NetBoxImport == nil {
		s.writeError(w, r, apierrors.RequestFailed("netbox integration is not configured"))
		return
	}
	result, err := s.NetBoxImport.Run(r.Context(), limit, dryRun, s.Reconciler)
	if err != nil {
		s.writeError(w, r, apierrors.New(apierrors.CodeRequestFailed, "netbox import failed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"created":    result.Created,
		"updated":    result.Updated,
		"collisions": result.Collisions,
		"staged":     result.Reconciled,
		"errors":     result.Errors,
	})
}

// BackstageEntities handles GET /integrations/backstage/entities.
func (s *Server) BackstageEntities(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 500, 1, 5000)
	cis, err := s.Store.ListCIs(r.Context(), store.CIFilter{Limit: limit})
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}
	items := make([]map[string]any, 0, len(cis))
	for _, ci := range cis {
		items = append(items, backstageComponent(ci, s.App.Name))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"apiVersion": "v1",
		"kind":       "List",
		"items":      items,
	})
}

// BackstageSync handles POST /integrations/backstage/sync?limit&dryRun&asyncJob.
func (s *Server) BackstageSync(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 500, 1, 5000)
	if limit > s.App.MaxBulkItems {
		s.writeError(w, r, apierrors.ValidationError("requested limit exceeds configured max_bulk_items"))
		return
	}
	dryRun := queryBool(r, "dryRun", false)
	asyncJob := queryBool(r, "asyncJob", false)

	if asyncJob {
		requestedBy := principalID(r)
		job, err := s.Queue.Enqueue(r.Context(), queue.JobTypeBackstageSync, map[string]any{
			"limit":   limit,
			"dry_run": dryRun,
		}, &requestedBy, 0)
		if err != nil {
			s.writeError(w, r, apierrors.Internal("failed to enqueue backstage sync job"))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"job_id":    job.ID,
			"job_type":  job.JobType,
			"status":    string(job.Status),
			"queued_at": job.CreatedAt,
		})
		return
	}

	cis, err := s.Store.ListCIs(r.Context(), store.CIFilter{Limit: limit})
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}
	if dryRun {
		s.writeJSON(w, http.StatusOK, map[string]any{"dry_run": true, "would_sync": len(cis)})
		return
	}

	items := make([]map[string]any, 0, len(cis))
	for _, ci := range cis {
		items = append(items, ciToBackstagePayload(ci))
	}
	result := s.Publisher.PublishBackstageBulkCIs(r.Context(), items, r.Header.Get("X-Correlation-Id"))
	if result.Status == integrations.DeliveryFailed {
		s.writeError(w, r, apierrors.New(apierrors.CodeRequestFailed, "backstage sync failed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"synced": len(items), "status": result.Status})
}

func ciToBackstagePayload(ci *domain.CI) map[string]any {
	m := map[string]any{
		"id":             ci.ID,
		"name":           ci.Name,
		"ciClass":        ci.CIType,
		"status":         string(ci.Status),
		"lifecycleState": string(ci.Status),
		"sourceSystem":   ci.Source,
	}
	if ci.Owner != nil {
		m["owner"] = *ci.Owner
	}
	return m
}

var slugNonAlnum = func(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
}

func slugify(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	lowered = strings.ReplaceAll(lowered, " ", "-")
	slug := strings.Map(func(r rune) rune {
		if slugNonAlnum(r) {
			return '-'
		}
		return r
	}, lowered)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "ci"
	}
	return slug
}

func backstageComponent(ci *domain.CI, systemName string) map[string]any {
	idPrefix := ci.ID
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}
	owner := "group:default/platform-team"
	if ci.Owner != nil && *ci.Owner != "" {
		owner = *ci.Owner
	}
	return map[string]any{
		"apiVersion": "backstage.io/v1alpha1",
		"kind":       "Component",
		"metadata": map[string]any{
			"name":        fmt.Sprintf("%s-%s", slugify(ci.Name), idPrefix),
			"title":       ci.Name,
			"description": fmt.Sprintf("CI %s from %s", ci.ID, systemName),
			"tags":        []string{strings.ToLower(ci.CIType), strings.ToLower(string(ci.Status)), "unifiedcmdb"},
			"annotations": map[string]any{
				"unifiedcmdb.io/ci-id":  ci.ID,
				"unifiedcmdb.io/source": ci.Source,
			},
		},
		"spec": map[string]any{
			"type":      strings.ToLower(ci.CIType),
			"lifecycle": strings.ToLower(string(ci.Status)),
			"owner":     owner,
			"system":    systemName,
		},
	}
}
