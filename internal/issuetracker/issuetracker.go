// Package issuetracker is the thin client the reconciler and lifecycle
// engine fire-and-forget notifications through when a CI
// needs human attention (missing owner, retirement review, orphan). It is
// one of spec.md §1's out-of-scope external collaborators — the service
// only needs an interface it can call and log the outcome of, grounded on
// the teacher's pattern of isolating a best-effort outbound call behind a
// small client type with an enabled/disabled switch.
package issuetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client creates issue-tracker tickets. CreateIssue never returns an error
// the caller is expected to act on beyond logging — callers treat tracker
// delivery as best-effort, matching jira_client.create_issue's role in the
// reconciler and lifecycle passes.
type Client interface {
	CreateIssue(ctx context.Context, summary string, details map[string]any)
}

// Config configures the HTTP-backed Client.
type Config struct {
	Enabled    bool
	BaseURL    string
	ProjectKey string
	Token      string
	Timeout    time.Duration
}

// HTTPClient posts a JIRA-shaped issue-creation payload. When disabled (or
// misconfigured) it logs and returns without making a request, the same
// short-circuit the original jira_client.create_issue performs.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds an HTTPClient. logger defaults to slog.Default() if nil.
func New(cfg Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type issuePayload struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     issueProject `json:"project"`
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	IssueType   issueType    `json:"issuetype"`
}

type issueProject struct {
	Key string `json:"key"`
}

type issueType struct {
	Name string `json:"name"`
}

// CreateIssue posts a ticket. Errors are logged, never propagated: a down
// issue tracker must never block reconciliation, lifecycle, or governance
// work.
func (c *HTTPClient) CreateIssue(ctx context.Context, summary string, details map[string]any) {
	if !c.cfg.Enabled || c.cfg.BaseURL == "" {
		c.logger.Info("issue tracker disabled; skipped issue", "summary", summary)
		return
	}

	payload := issuePayload{
		Fields: issueFields{
			Project:     issueProject{Key: c.cfg.ProjectKey},
			Summary:     summary,
			Description: fmt.Sprintf("%+v", details),
			IssueType:   issueType{Name: "Task"},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal issue payload", "error", err, "summary", summary)
		return
	}

	url := c.cfg.BaseURL + "/rest/api/2/issue"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build issue request", "error", err, "summary", summary)
		return
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("create issue request failed", "error", err, "summary", summary)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Error("issue tracker rejected issue", "status", resp.StatusCode, "summary", summary)
		return
	}
	c.logger.Info("issue created", "summary", summary)
}

// Noop discards every call, for tests and for deployments with no issue
// tracker configured.
type Noop struct{}

// CreateIssue is a no-op.
func (Noop) CreateIssue(context.Context, string, map[string]any) {}

var _ Client = (*HTTPClient)(nil)
var _ Client = Noop{}
