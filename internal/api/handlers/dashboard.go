package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/apierrors"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/realtime"
	"github.com/unifiedcmdb/cmdb-core/internal/store"

	"github.com/gorilla/websocket"
)

// Me handles GET /dashboard/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierrors.AuthenticationError("missing authenticated principal"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal.ID,
		"scope":     string(principal.Role),
	})
}

// Summary handles GET /dashboard/summary, aggregating CI/relationship/
// collision/sync totals and distributions in-handler the way dashboard.py's
// dashboard_summary aggregates with SQL GROUP BYs.
func (s *Server) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cis, err := s.Store.ListCIs(ctx, store.CIFilter{Limit: 1_000_000})
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list CIs"))
		return
	}
	rels, err := s.Store.ListAllRelationships(ctx)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list relationships"))
		return
	}
	openCollisions, err := s.Store.ListCollisions(ctx, store.CollisionFilter{Status: "open"})
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list collisions"))
		return
	}

	byStatus := map[string]int{}
	bySource := map[string]int{}
	ownerCounts := map[string]int{}
	for _, ci := range cis {
		byStatus[string(ci.Status)]++
		bySource[ci.Source]++
		if ci.Owner != nil && *ci.Owner != "" {
			ownerCounts[*ci.Owner]++
		}
	}
	topOwners := make([]map[string]any, 0, len(ownerCounts))
	for owner, count := range ownerCounts {
		topOwners = append(topOwners, map[string]any{"owner": owner, "count": count})
	}
	sort.Slice(topOwners, func(i, j int) bool {
		return topOwners[i]["count"].(int) > topOwners[j]["count"].(int)
	})
	if len(topOwners) > 5 {
		topOwners = topOwners[:5]
	}

	jobs, err := s.Store.ListSyncJobs(ctx, "", 1000)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list sync jobs"))
		return
	}
	var jobsQueued, jobsRunning, jobsFailed int
	var latestJob map[string]any
	for i, job := range jobs {
		switch job.Status {
		case domain.SyncJobQueued:
			jobsQueued++
		case domain.SyncJobRunning:
			jobsRunning++
		case domain.SyncJobFailed:
			jobsFailed++
		}
		if i == 0 {
			latestJob = map[string]any{
				"id":           job.ID,
				"job_type":     job.JobType,
				"status":       string(job.Status),
				"created_at":   job.CreatedAt,
				"completed_at": job.CompletedAt,
				"last_error":   job.LastError,
			}
		}
	}

	since := s.Clock.Now().Add(-24 * time.Hour)
	recentEvents, err := s.Store.ListRecentAudit(ctx, since, 100000)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list recent audit events"))
		return
	}
	var recentIngest int
	for _, ev := range recentEvents {
		switch ev.EventType {
		case "ci.created", "ci.updated", "relationship.created":
			recentIngest++
		}
	}

	watermarks, err := s.netboxWatermarks(r)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to load netbox watermarks"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"totals": map[string]any{
			"cis":                    len(cis),
			"relationships":          len(rels),
			"open_collisions":        len(openCollisions),
			"audit_events_last_24h":  len(recentEvents),
			"ingest_events_last_24h": recentIngest,
		},
		"distributions": map[string]any{
			"by_status":  byStatus,
			"by_source":  bySource,
			"top_owners": topOwners,
		},
		"sync": map[string]any{
			"jobs_total":        len(jobs),
			"jobs_queued":       jobsQueued,
			"jobs_running":      jobsRunning,
			"jobs_failed":       jobsFailed,
			"latest_job":        latestJob,
			"netbox_watermarks": watermarks,
			"schedules":         s.scheduleSummaries(ctx),
		},
	})
}

func (s *Server) scheduleSummaries(ctx context.Context) []map[string]any {
	if s.Scheduler == nil {
		return nil
	}
	defs := s.Scheduler.Schedules()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		var nextRunAt any
		if t, ok := s.Scheduler.NextRunAt(ctx, def.Name); ok {
			nextRunAt = t
		}
		out = append(out, map[string]any{
			"name":             def.Name,
			"job_type":         def.JobType,
			"enabled":          def.Enabled,
			"interval_seconds": def.IntervalSeconds,
			"payload":          def.Payload,
			"next_run_at":      nextRunAt,
		})
	}
	return out
}

// Activity handles GET /dashboard/activity?limit, enriching each audit event
// with the originating CI's name the way dashboard_activity joins CI.name.
func (s *Server) Activity(w http.ResponseWriter, r *http.Request) {
	limit := queryIntDefault(r, "limit", 50, 1, 500)
	events, err := s.Store.ExportAudit(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, apierrors.Internal("failed to list activity"))
		return
	}

	ciNames := map[string]string{}
	items := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		var ciName any
		if ev.CIID != nil {
			name, ok := ciNames[*ev.CIID]
			if !ok {
				if ci, err := s.Store.GetCI(r.Context(), *ev.CIID); err == nil {
					name = ci.Name
					ciNames[*ev.CIID] = name
				}
			}
			if name != "" {
				ciName = name
			}
		}
		items = append(items, map[string]any{
			"id":         ev.ID,
			"ci_id":      ev.CIID,
			"ci_name":    ciName,
			"event_type": ev.EventType,
			"payload":    ev.Payload,
			"created_at": ev.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Alerts handles GET /dashboard/alerts.
func (s *Server) Alerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Telemetry.Snapshot())
}

var activityUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ActivityStream handles GET /dashboard/activity/ws, pushing audit and
// telemetry events to the caller as they're published on the event bus,
// supplementing the polling Activity endpoint.
func (s *Server) ActivityStream(w http.ResponseWriter, r *http.Request) {
	if s.EventBus == nil {
		s.writeError(w, r, apierrors.RequestFailed("realtime event bus is not configured"))
		return
	}
	conn, err := activityUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := realtime.NewWebSocketSubscriber(requestIDFromRequest(r), r.Context(), conn, s.Logger)
	if err := s.EventBus.Subscribe(sub); err != nil {
		_ = sub.Close()
		return
	}
	defer s.EventBus.Unsubscribe(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
