package queue

import (
	"errors"
	"fmt"
	"regexp"
)

// UpstreamHTTPError classifies a handler failure as an upstream HTTP
// rejection (a non-2xx response), mirroring _safe_job_error's
// httpx.HTTPStatusError branch.
type UpstreamHTTPError struct {
	StatusCode int
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream http error (status %d)", e.StatusCode)
}

// UpstreamRequestError classifies a handler failure as a failed attempt
// to reach the upstream at all (network error, decode failure, ...),
// mirroring _safe_job_error's httpx.HTTPError branch.
type UpstreamRequestError struct {
	Err error
}

func (e *UpstreamRequestError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamRequestError) Unwrap() error {
	return e.Err
}

// SlugError is a handler-raised classification that is already a safe,
// closed-vocabulary failure reason (e.g. "netbox_url_missing"). It is
// recorded verbatim as the job's last_error only if it matches
// slugPattern and is no longer than 80 characters; otherwise it falls
// back to the generic job_execution_failed classification, matching
// _safe_job_error's defensive length/charset check on ValueError
// messages.
type SlugError string

func (e SlugError) Error() string {
	return string(e)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// classifyError maps any error a job handler returns into the
// closed-vocabulary reason string persisted on the job row.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var httpErr *UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return "upstream_http_error"
	}
	var reqErr *UpstreamRequestError
	if errors.As(err, &reqErr) {
		return "upstream_request_error"
	}
	var slug SlugError
	if errors.As(err, &slug) {
		candidate := string(slug)
		if candidate != "" && len(candidate) <= 80 && slugPattern.MatchString(candidate) {
			return candidate
		}
	}
	return "job_execution_failed"
}
