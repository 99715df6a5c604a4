package integrations

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DeliveryStatus is the outcome of one outbound publish attempt.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliverySkipped DeliveryStatus = "skipped"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryResult reports what happened to one outbound POST. It never
// carries a Go error — a failed delivery is a value, not a propagated
// error, so that it can sit inside a larger result map without aborting
// the caller's transaction (spec.md §4.4: "never fail the originating
// transaction").
type DeliveryResult struct {
	Status     DeliveryStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
}

// httpPoster sends one JSON POST and classifies the response, grounded on
// the teacher's WebhookHTTPClient but without its retry loop: retries for
// integration deliveries are the sync-job queue's job (spec.md §4.5), not
// this client's.
type httpPoster struct {
	client *http.Client
	logger *slog.Logger
	source string // X-Source-System value
}

func newHTTPPoster(logger *slog.Logger, source string) *httpPoster {
	return &httpPoster{
		logger: logger,
		source: source,
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:          50,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       30 * time.Second,
				ForceAttemptHTTP2:     true,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 20 * time.Second,
			},
		},
	}
}

// authorizationValue normalizes a raw token into a usable Authorization
// header value, preserving an already-prefixed "Bearer "/"Token " scheme.
func authorizationValue(token string) string {
	value := strings.TrimSpace(token)
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "token ") {
		return value
	}
	return "Bearer " + value
}

func (p *httpPoster) postJSON(ctx context.Context, target, url, token string, correlationID string, body any) DeliveryResult {
	if url == "" {
		return DeliveryResult{Status: DeliverySkipped, Reason: target + "_url_missing"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal integration payload", slog.String("target", target), slog.Any("error", err))
		return DeliveryResult{Status: DeliveryFailed, Reason: "delivery_failed"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return DeliveryResult{Status: DeliveryFailed, Reason: "delivery_failed"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source-System", p.source)
	if correlationID != "" {
		req.Header.Set("x-correlation-id", correlationID)
	}
	if token != "" {
		req.Header.Set("Authorization", authorizationValue(token))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.ErrorContext(ctx, "integration delivery failed", slog.String("target", target), slog.Any("error", err))
		return DeliveryResult{Status: DeliveryFailed, Reason: "delivery_failed"}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return DeliveryResult{Status: DeliverySent, StatusCode: resp.StatusCode}
	}

	p.logger.WarnContext(ctx, "integration delivery rejected by upstream",
		slog.String("target", target), slog.Int("status_code", resp.StatusCode))
	return DeliveryResult{Status: DeliveryFailed, Reason: "upstream_rejected", StatusCode: resp.StatusCode}
}

func (p *httpPoster) getJSON(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}
