// Package reconciler implements identity-based CI upsert: matching an
// incoming payload against existing Configuration Items by identity,
// picking a survivor when more than one CI claims the same identity,
// applying source precedence, and recording governance collisions along
// the way. It is the central write path every ingest route and every
// integration-publisher pull funnels through.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/issuetracker"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// IdentityRef is one (scheme, value) pair an incoming payload names a CI
// by.
type IdentityRef struct {
	Scheme string
	Value  string
}

// Payload is the reconciler's input: a normalized view of an upstream
// connector's CI record, independent of the wire format it arrived in.
type Payload struct {
	Name       string
	CIType     string
	Owner      *string
	Attributes domain.Attributes
	Identities []IdentityRef
	LastSeenAt *time.Time
}

// Reconciler upserts CIs by identity and records governance collisions.
// It is safe for concurrent use; the identity cache is the only shared
// mutable state and golang-lru's Cache is internally synchronized.
type Reconciler struct {
	store      store.Store
	clock      clock.Clock
	precedence []string
	tracker    issuetracker.Client
	logger     *slog.Logger
	cache      *lru.Cache[string, string] // "scheme\x00value" -> ci id
}

// New builds a Reconciler. precedence is the ordered list of source names
// from highest to lowest rank (an earlier entry overrides a later one; on
// equal rank the incoming write wins); an unlisted source ranks last. cacheSize bounds the identity->CI lookup cache; 0 uses a
// sensible default.
func New(st store.Store, clk clock.Clock, precedence []string, tracker issuetracker.Client, logger *slog.Logger, cacheSize int) (*Reconciler, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build identity cache: %w", err)
	}
	if tracker == nil {
		tracker = issuetracker.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:      st,
		clock:      clk,
		precedence: precedence,
		tracker:    tracker,
		logger:     logger,
		cache:      cache,
	}, nil
}

func identityCacheKey(scheme, value string) string {
	return scheme + "\x00" + value
}

func sourceRank(precedence []string, source string) int {
	for i, s := range precedence {
		if s == source {
			return i
		}
	}
	return len(precedence)
}

// incomingHasPrecedence reports whether an incoming write from
// incomingSource should overwrite a CI currently attributed to
// existingSource. A tie (equal rank, including two unlisted sources)
// favors the incoming write.
func incomingHasPrecedence(precedence []string, existingSource, incomingSource string) bool {
	return sourceRank(precedence, incomingSource) <= sourceRank(precedence, existingSource)
}

// Reconcile upserts the CI this payload describes, returning the resulting
// record, whether it was newly created, and how many governance collisions
// were recorded while processing it.
func (r *Reconciler) Reconcile(ctx context.Context, source string, payload Payload) (*domain.CI, bool, int, error) {
	if len(payload.Identities) == 0 {
		return nil, false, 0, fmt.Errorf("reconciler: payload must carry at least one identity")
	}

	now := r.clock.Now()
	lastSeen := now
	if payload.LastSeenAt != nil {
		lastSeen = clock.Normalize(*payload.LastSeenAt)
	}

	var (
		resultCI  *domain.CI
		created   bool
		collision int
	)

	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		matched, err := r.matchCIs(ctx, tx, payload.Identities)
		if err != nil {
			return err
		}

		if len(matched) == 0 {
			ci, n, err := r.reconcileNew(ctx, tx, source, payload, now, lastSeen)
			if err != nil {
				return err
			}
			resultCI, created, collision = ci, true, n
			return nil
		}

		ci, n, err := r.reconcileExisting(ctx, tx, matched, source, payload, now, lastSeen)
		if err != nil {
			return err
		}
		resultCI, created, collision = ci, false, n
		return nil
	})
	if err != nil {
		return nil, false, 0, err
	}
	return resultCI, created, collision, nil
}

func (r *Reconciler) matchCIs(ctx context.Context, tx store.Store, idents []IdentityRef) ([]*domain.CI, error) {
	seen := make(map[string]bool, len(idents))
	var matched []*domain.CI
	for _, ident := range idents {
		ci, err := r.findCIByIdentity(ctx, tx, ident.Scheme, ident.Value)
		if err != nil {
			return nil, err
		}
		if ci != nil && !seen[ci.ID] {
			seen[ci.ID] = true
			matched = append(matched, ci)
		}
	}
	return matched, nil
}

func (r *Reconciler) reconcileNew(ctx context.Context, tx store.Store, source string, payload Payload, now, lastSeen time.Time) (*domain.CI, int, error) {
	attrs := payload.Attributes
	if attrs == nil {
		attrs = domain.Attributes{}
	}
	ci := &domain.CI{
		ID:         uuid.NewString(),
		Name:       payload.Name,
		CIType:     payload.CIType,
		Source:     source,
		Owner:      payload.Owner,
		Status:     domain.CIStatusActive,
		Attributes: attrs,
		LastSeenAt: lastSeen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.CreateCI(ctx, ci); err != nil {
		return nil, 0, err
	}

	collisions, err := r.ensureIdentities(ctx, tx, ci, payload.Identities, source)
	if err != nil {
		return nil, 0, err
	}

	if err := r.appendAudit(ctx, tx, domain.EventCICreated, &ci.ID, map[string]any{
		"source":     source,
		"identities": identitiesToMaps(payload.Identities),
	}); err != nil {
		return nil, 0, err
	}

	if err := r.flagIfOwnerless(ctx, tx, ci); err != nil {
		return nil, 0, err
	}

	return ci, collisions, nil
}

func (r *Reconciler) reconcileExisting(ctx context.Context, tx store.Store, matched []*domain.CI, source string, payload Payload, now, lastSeen time.Time) (*domain.CI, int, error) {
	ci := matched[0]
	collisions := 0

	for _, conflict := range matched[1:] {
		if conflict.ID == ci.ID {
			continue
		}
		for _, ident := range payload.Identities {
			owner, err := r.findCIByIdentity(ctx, tx, ident.Scheme, ident.Value)
			if err != nil {
				return nil, 0, err
			}
			if owner == nil {
				continue
			}
			n, err := r.recordCollision(ctx, tx, ident.Scheme, ident.Value, ci.ID, conflict.ID, source)
			if err != nil {
				return nil, 0, err
			}
			collisions += n
		}
	}

	if incomingHasPrecedence(r.precedence, ci.Source, source) {
		ci.Name = payload.Name
		ci.CIType = payload.CIType
		ci.Owner = payload.Owner
		if payload.Attributes != nil {
			ci.Attributes = payload.Attributes
		} else {
			ci.Attributes = domain.Attributes{}
		}
		ci.Source = source
		if err := r.appendAudit(ctx, tx, domain.EventCIUpdated, &ci.ID, map[string]any{"source": source}); err != nil {
			return nil, 0, err
		}
	} else {
		if err := r.appendAudit(ctx, tx, domain.EventCIReconcileSkippedByPrec, &ci.ID, map[string]any{
			"existing_source": ci.Source,
			"incoming_source": source,
		}); err != nil {
			return nil, 0, err
		}
	}

	ci.LastSeenAt = clock.Max(ci.LastSeenAt, lastSeen)
	ci.UpdatedAt = now
	if err := tx.UpdateCI(ctx, ci); err != nil {
		return nil, 0, err
	}

	n, err := r.ensureIdentities(ctx, tx, ci, payload.Identities, source)
	if err != nil {
		return nil, 0, err
	}
	collisions += n

	if err := r.flagIfOwnerless(ctx, tx, ci); err != nil {
		return nil, 0, err
	}

	return ci, collisions, nil
}

// ensureIdentities creates any payload identity this CI doesn't yet carry,
// and records a collision for any identity already bound to a different
// CI. Collisions created here are idempotent on OPEN via store.CreateCollision.
func (r *Reconciler) ensureIdentities(ctx context.Context, tx store.Store, ci *domain.CI, idents []IdentityRef, source string) (int, error) {
	collisions := 0
	for _, ident := range idents {
		owner, err := r.findCIByIdentity(ctx, tx, ident.Scheme, ident.Value)
		if err != nil {
			return 0, err
		}
		if owner == nil {
			if err := tx.CreateIdentity(ctx, &domain.Identity{
				ID:        uuid.NewString(),
				CIID:      ci.ID,
				Scheme:    ident.Scheme,
				Value:     ident.Value,
				CreatedAt: r.clock.Now(),
			}); err != nil {
				return 0, err
			}
			r.cache.Add(identityCacheKey(ident.Scheme, ident.Value), ci.ID)
			continue
		}
		if owner.ID != ci.ID {
			n, err := r.recordCollision(ctx, tx, ident.Scheme, ident.Value, owner.ID, ci.ID, source)
			if err != nil {
				return 0, err
			}
			collisions += n
		}
	}
	return collisions, nil
}

func (r *Reconciler) recordCollision(ctx context.Context, tx store.Store, scheme, value, existingCIID, incomingCIID, source string) (int, error) {
	collision := &domain.GovernanceCollision{
		ID:           uuid.NewString(),
		Scheme:       scheme,
		Value:        value,
		ExistingCIID: existingCIID,
		IncomingCIID: incomingCIID,
		Status:       domain.CollisionOpen,
		CreatedAt:    r.clock.Now(),
	}
	isNew, err := tx.CreateCollision(ctx, collision)
	if err != nil {
		return 0, err
	}
	if !isNew {
		return 0, nil
	}

	if err := r.appendAudit(ctx, tx, domain.EventGovernanceCollisionDetected, &existingCIID, map[string]any{
		"scheme":         scheme,
		"value":          value,
		"existing_ci_id": existingCIID,
		"incoming_ci_id": incomingCIID,
		"source":         source,
	}); err != nil {
		return 0, err
	}

	r.tracker.CreateIssue(ctx, fmt.Sprintf("Identity collision: %s:%s", scheme, value), map[string]any{
		"scheme":         scheme,
		"value":          value,
		"existing_ci_id": existingCIID,
		"incoming_ci_id": incomingCIID,
		"source":         source,
	})
	return 1, nil
}

func (r *Reconciler) flagIfOwnerless(ctx context.Context, tx store.Store, ci *domain.CI) error {
	if ci.Owner != nil && *ci.Owner != "" {
		return nil
	}
	r.tracker.CreateIssue(ctx, "Missing CI ownership", map[string]any{"ci_id": ci.ID, "name": ci.Name})
	return r.appendAudit(ctx, tx, domain.EventGovernanceOwnerMissing, &ci.ID, map[string]any{"ci_id": ci.ID, "name": ci.Name})
}

func (r *Reconciler) appendAudit(ctx context.Context, tx store.Store, eventType string, ciID *string, payload map[string]any) error {
	return tx.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		CIID:      ciID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: r.clock.Now(),
	})
}

// findCIByIdentity looks up the CI currently owning (scheme, value),
// checking the identity cache first. A cache hit pointing at a CI that no
// longer exists is evicted and the lookup falls through to the store.
func (r *Reconciler) findCIByIdentity(ctx context.Context, tx store.Store, scheme, value string) (*domain.CI, error) {
	key := identityCacheKey(scheme, value)
	if ciID, ok := r.cache.Get(key); ok {
		ci, err := tx.GetCI(ctx, ciID)
		switch {
		case err == nil:
			return ci, nil
		case errors.Is(err, store.ErrNotFound):
			r.cache.Remove(key)
		default:
			return nil, err
		}
	}

	ci, err := tx.FindCIByIdentity(ctx, scheme, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	r.cache.Add(key, ci.ID)
	return ci, nil
}

func identitiesToMaps(idents []IdentityRef) []map[string]any {
	out := make([]map[string]any, len(idents))
	for i, ident := range idents {
		out[i] = map[string]any{"scheme": ident.Scheme, "value": ident.Value}
	}
	return out
}
