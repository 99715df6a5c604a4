package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	token   string
)

// rootCmd is cmdbctl's base command; every subcommand talks to the
// service's HTTP API rather than touching the database directly.
var rootCmd = &cobra.Command{
	Use:   "cmdbctl",
	Short: "Operate the unified CMDB core service",
	Long: `cmdbctl is the operator CLI for the CMDB core service: triggering
lifecycle sweeps and integration syncs, and listing governance collisions,
all through the same HTTP API the dashboard uses.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", envOr("CMDBCTL_BASE_URL", "http://localhost:8080"), "base URL of the CMDB core service")
	rootCmd.PersistentFlags().StringVar(&token, "token", envOr("CMDBCTL_TOKEN", ""), "bearer token for service authentication")

	rootCmd.AddCommand(lifecycleCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(collisionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type apiError struct {
	Status int
	Body   map[string]any
}

func (e *apiError) Error() string {
	return fmt.Sprintf("request failed with status %d: %v", e.Status, e.Body)
}

// callAPI issues method against path (relative to baseURL), optionally
// sending body as JSON, and decodes a JSON response into out (if non-nil).
// A non-2xx response is returned as an *apiError carrying the decoded
// error envelope.
func callAPI(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		return &apiError{Status: resp.StatusCode, Body: decoded}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

func printJSON(v any) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(encoded))
}
