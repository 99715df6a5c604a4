package integrations

import (
	"fmt"
	"net/url"
	"strings"
)

// devEnvironments lists the app_env values exempt from the https-only rule.
var devEnvironments = map[string]bool{
	"dev":         true,
	"development": true,
	"local":       true,
	"test":        true,
}

// IsDevEnvironment reports whether env (case-insensitive) is exempt from
// the plain-http restriction below.
func IsDevEnvironment(env string) bool {
	return devEnvironments[strings.ToLower(strings.TrimSpace(env))]
}

// ValidateOutboundURL rejects anything that is not a well-formed http(s)
// URL, and further rejects plain http outside a dev/local/test environment
// (spec.md §4.4 outbound URL policy). target names the integration this
// URL belongs to, used only to make the error slug readable
// (netbox_url_invalid, backstage_url_requires_https, ...).
func ValidateOutboundURL(raw, target, env string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", &Error{Kind: "invalid_target_url", Message: fmt.Sprintf("%s_url_invalid", target)}
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", &Error{Kind: "invalid_target_url", Message: fmt.Sprintf("%s_url_invalid", target)}
	}
	if !IsDevEnvironment(env) && scheme != "https" {
		return "", &Error{Kind: "invalid_target_url", Message: fmt.Sprintf("%s_url_requires_https", target)}
	}
	return value, nil
}
