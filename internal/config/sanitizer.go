package config

import "encoding/json"

const redacted = "***REDACTED***"

// Sanitize returns a deep copy of cfg with secrets redacted, for safe
// inclusion in startup logs — the teacher's internal/config/sanitizer.go
// redaction habit, applied to this service's secrets (DB URL, bearer
// tokens, the Backstage signing key).
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var sanitized Config
	if err := json.Unmarshal(data, &sanitized); err != nil {
		return cfg
	}

	sanitized.Database.URL = redacted
	sanitized.Redis.Password = redacted
	sanitized.Integrations.NetBoxToken = redacted
	sanitized.Integrations.BackstageToken = redacted
	sanitized.Integrations.BackstageSigningKey = redacted
	sanitized.Auth.OperatorTokens = redactAll(sanitized.Auth.OperatorTokens)
	sanitized.Auth.ViewerTokens = redactAll(sanitized.Auth.ViewerTokens)
	sanitized.Auth.ApproverTokens = redactAll(sanitized.Auth.ApproverTokens)

	return &sanitized
}

func redactAll(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	out := make([]string, len(tokens))
	for i := range tokens {
		out[i] = redacted
	}
	return out
}
