package integrations

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateOutboundURL_RejectsNonHTTPScheme(t *testing.T) {
	_, err := ValidateOutboundURL("ftp://example.com/hook", "netbox", "production")
	require.Error(t, err)
	assert.Equal(t, "invalid_target_url", err.(*Error).Kind)
}

func TestValidateOutboundURL_RejectsPlainHTTPOutsideDev(t *testing.T) {
	_, err := ValidateOutboundURL("http://example.com/hook", "backstage", "production")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires_https")
}

func TestValidateOutboundURL_AllowsPlainHTTPInDev(t *testing.T) {
	url, err := ValidateOutboundURL("http://localhost:8080/hook", "backstage", "local")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/hook", url)
}

func TestValidateOutboundURL_EmptyIsSkipNotError(t *testing.T) {
	url, err := ValidateOutboundURL("   ", "netbox", "production")
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestLegacyBackstageToken_HasThreeSegmentsAndDecodableClaims(t *testing.T) {
	secret := base64.RawURLEncoding.EncodeToString([]byte("super-secret-signing-key"))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := legacyBackstageToken(secret, now)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	claimsBytes, err := base64URLDecode(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(claimsBytes, &claims))
	assert.Equal(t, "backstage-server", claims["sub"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), claims["exp"])
}

func TestBackstageToken_PrefersConfiguredBearerOverSecret(t *testing.T) {
	cfg := BackstageConfig{Token: "configured-token", Secret: base64.RawURLEncoding.EncodeToString([]byte("k"))}
	got := backstageToken(cfg, time.Now(), discardLogger())
	assert.Equal(t, "configured-token", got)
}

func TestBackstageToken_FallsBackToLegacySigning(t *testing.T) {
	cfg := BackstageConfig{Secret: base64.RawURLEncoding.EncodeToString([]byte("k"))}
	got := backstageToken(cfg, time.Now(), discardLogger())
	assert.NotEmpty(t, got)
	assert.Len(t, strings.Split(got, "."), 3)
}

func TestBackstageToken_EmptyWhenNeitherConfigured(t *testing.T) {
	assert.Empty(t, backstageToken(BackstageConfig{}, time.Now(), discardLogger()))
}

func TestPublishCIEvent_SendsToBothTargetsWhenEnabled(t *testing.T) {
	var netboxBody, backstageBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(r.URL.Path, "ingest") {
			_ = json.Unmarshal(body, &backstageBody)
		} else {
			_ = json.Unmarshal(body, &netboxBody)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := Config{
		SourceSystemName: "unified-cmdb",
		Environment:       "local",
		NetBoxPush:        NetBoxPushConfig{Enabled: true, URL: srv.URL + "/events", Token: "tok"},
		Backstage:         BackstageConfig{Enabled: true, URL: srv.URL, Token: "bearer-tok"},
	}
	pub := New(cfg, clock.NewFixed(time.Now()), discardLogger())

	result := pub.PublishCIEvent(context.Background(), "ci.created", map[string]any{
		"id": "ci-1", "name": "host-1", "ciClass": "server", "status": "ACTIVE",
	}, "corr-1")

	assert.Equal(t, DeliverySent, result.NetBox.Status)
	assert.Equal(t, DeliverySent, result.Backstage.Status)
	require.NotNil(t, netboxBody)
	assert.Equal(t, "ci.created", netboxBody["eventType"])
	require.NotNil(t, backstageBody)
	items, _ := backstageBody["items"].([]any)
	require.Len(t, items, 1)
}

func TestPublishCIEvent_SkipsDisabledTargets(t *testing.T) {
	pub := New(Config{SourceSystemName: "unified-cmdb", Environment: "local"}, clock.NewFixed(time.Now()), discardLogger())
	result := pub.PublishCIEvent(context.Background(), "ci.created", map[string]any{"id": "ci-1"}, "")
	assert.Equal(t, DeliverySkipped, result.NetBox.Status)
	assert.Equal(t, DeliverySkipped, result.Backstage.Status)
}

func TestPublishCIEvent_UpstreamRejectionIsReportedNotErrored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := Config{
		SourceSystemName: "unified-cmdb",
		Environment:       "local",
		NetBoxPush:        NetBoxPushConfig{Enabled: true, URL: srv.URL, Token: "tok"},
	}
	pub := New(cfg, clock.NewFixed(time.Now()), discardLogger())
	result := pub.PublishCIEvent(context.Background(), "ci.updated", map[string]any{"id": "ci-1"}, "")
	assert.Equal(t, DeliveryFailed, result.NetBox.Status)
	assert.Equal(t, "upstream_rejected", result.NetBox.Reason)
	assert.Equal(t, http.StatusBadRequest, result.NetBox.StatusCode)
}

// netboxServer serves two pages of devices and one page of virtual
// machines, honoring last_updated__gte filtering on the query string.
func netboxServer(t *testing.T) *httptest.Server {
	t.Helper()
	devicesPage1 := []map[string]any{
		{"id": 1, "name": "dev-1", "last_updated": "2026-01-01T00:00:00Z", "status": map[string]any{"name": "active"}},
		{"id": 2, "name": "dev-2", "last_updated": "2026-01-02T00:00:00Z", "status": map[string]any{"name": "active"}},
	}
	devicesPage2 := []map[string]any{
		{"id": 3, "name": "dev-3", "last_updated": "2026-01-03T00:00:00Z", "status": map[string]any{"name": "active"}},
	}
	vms := []map[string]any{
		{"id": 10, "name": "vm-1", "last_updated": "2026-01-01T05:00:00Z", "status": map[string]any{"name": "active"}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/dcim/devices/", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "2" {
			_ = json.NewEncoder(w).Encode(map[string]any{"results": devicesPage2, "next": nil})
			return
		}
		nextURL := "http://" + r.Host + "/api/dcim/devices/?page=2"
		_ = json.NewEncoder(w).Encode(map[string]any{"results": devicesPage1, "next": nextURL})
	})
	mux.HandleFunc("/api/virtualization/virtual-machines/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": vms, "next": nil})
	})
	return httptest.NewServer(mux)
}

func TestNetBoxImporter_PaginatesAndAdvancesWatermarkWhenExhausted(t *testing.T) {
	srv := netboxServer(t)
	defer srv.Close()

	st := storetest.New()
	clk := clock.NewFixed(time.Now())
	rec, err := reconciler.New(st, clk, []string{"netbox"}, nil, discardLogger(), 0)
	require.NoError(t, err)

	importer := NewNetBoxImporter(st, clk, NetBoxConfig{APIURL: srv.URL, APIToken: "tok"}, "unified-cmdb", discardLogger())

	result, err := importer.Run(context.Background(), 10, false, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, result.DevicesFetched)
	assert.Equal(t, 1, result.VMsFetched)
	assert.Equal(t, 4, result.Reconciled)

	deviceWatermark, err := st.GetSyncState(context.Background(), watermarkKeyDevices)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-03T00:00:00Z", deviceWatermark.Value)

	vmWatermark, err := st.GetSyncState(context.Background(), watermarkKeyVMs)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T05:00:00Z", vmWatermark.Value)
}

func TestNetBoxImporter_DoesNotAdvanceWatermarkWhenCutShortByLimit(t *testing.T) {
	srv := netboxServer(t)
	defer srv.Close()

	st := storetest.New()
	clk := clock.NewFixed(time.Now())
	rec, err := reconciler.New(st, clk, []string{"netbox"}, nil, discardLogger(), 0)
	require.NoError(t, err)

	importer := NewNetBoxImporter(st, clk, NetBoxConfig{APIURL: srv.URL, APIToken: "tok"}, "unified-cmdb", discardLogger())

	// half of limit=2 is 1 device and 1 vm: the device pull is cut short
	// by the limit after page 1 (there is still a next page), so its
	// watermark must NOT advance; the vm pull exhausts its single page
	// and its watermark must advance.
	_, err = importer.Run(context.Background(), 2, false, rec)
	require.NoError(t, err)

	_, err = st.GetSyncState(context.Background(), watermarkKeyDevices)
	assert.Error(t, err)

	vmWatermark, err := st.GetSyncState(context.Background(), watermarkKeyVMs)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T05:00:00Z", vmWatermark.Value)
}

func TestNetBoxImporter_DryRunNeverAdvancesWatermark(t *testing.T) {
	srv := netboxServer(t)
	defer srv.Close()

	st := storetest.New()
	clk := clock.NewFixed(time.Now())
	rec, err := reconciler.New(st, clk, []string{"netbox"}, nil, discardLogger(), 0)
	require.NoError(t, err)

	importer := NewNetBoxImporter(st, clk, NetBoxConfig{APIURL: srv.URL, APIToken: "tok"}, "unified-cmdb", discardLogger())

	_, err = importer.Run(context.Background(), 10, true, rec)
	require.NoError(t, err)

	_, err = st.GetSyncState(context.Background(), watermarkKeyDevices)
	assert.Error(t, err)
	_, err = st.GetSyncState(context.Background(), watermarkKeyVMs)
	assert.Error(t, err)
}

func TestBackstageIngestURL_ReplacesExistingIngestSuffix(t *testing.T) {
	assert.Equal(t, "https://backstage.example.com/ingest/relationships:bulk",
		backstageIngestURL("https://backstage.example.com/ingest/cis:bulk", "relationships:bulk"))
	assert.Equal(t, "https://backstage.example.com/ingest/cis:bulk",
		backstageIngestURL("https://backstage.example.com", "cis:bulk"))
}

func TestCIToBackstageItem_FallsBackToDefaultsAndAddsCmdbIdentity(t *testing.T) {
	item := ciToBackstageItem(map[string]any{"id": "ci-123", "name": "host-1"}, "unified-cmdb")
	assert.Equal(t, "unknown", item["ciClass"])
	assert.Equal(t, "host-1", item["canonicalName"])
	assert.Equal(t, "ACTIVE", item["lifecycleState"])
	identities, _ := item["identities"].([]map[string]any)
	require.Len(t, identities, 1)
	assert.Equal(t, "cmdb_ci_id", identities[0]["scheme"])
	assert.Equal(t, "ci-123", identities[0]["value"])
}

func TestRelationshipToBackstageItem_NilWhenEndpointsMissing(t *testing.T) {
	assert.Nil(t, relationshipToBackstageItem(map[string]any{}, "unified-cmdb"))
}

func TestStringifyScalar_Ints(t *testing.T) {
	assert.Equal(t, "7", stringifyScalar(7))
	assert.Equal(t, "7", stringifyScalar(float64(7)))
	assert.Equal(t, strconv.Itoa(-3), stringifyScalar(-3))
}
