package integrations

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// legacyBackstageToken self-signs an HS256 JWT from a base64url-encoded
// secret, matching original_source/app/services/integrations.py's
// _legacy_backstage_token byte for byte: no third-party JWT library is
// pulled in for a single-purpose, single-algorithm 1-hour token — this
// is small enough, and specific enough to the original wire format, that
// reimplementing it against crypto/hmac is more faithful than adapting a
// general-purpose JWT library's claims/validation machinery to produce
// the exact same three-segment string.
func legacyBackstageToken(secret string, issuedAt time.Time) (string, error) {
	key, err := base64URLDecode(secret)
	if err != nil {
		return "", fmt.Errorf("decode backstage secret: %w", err)
	}

	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	claims, err := json.Marshal(map[string]any{
		"sub": "backstage-server",
		"exp": issuedAt.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", err
	}

	encodedHeader := base64URLEncode(header)
	encodedClaims := base64URLEncode(claims)
	signingInput := encodedHeader + "." + encodedClaims

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingInput))
	signature := base64URLEncode(mac.Sum(nil))

	return signingInput + "." + signature, nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(s string) ([]byte, error) {
	normalized := strings.TrimSpace(s)
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(normalized, "="))
}

// backstageToken prefers a configured bearer token, falling back to a
// self-signed legacy token when only a signing secret is configured.
func backstageToken(cfg BackstageConfig, now time.Time, logger *slog.Logger) string {
	if strings.TrimSpace(cfg.Token) != "" {
		return cfg.Token
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return ""
	}
	token, err := legacyBackstageToken(cfg.Secret, now)
	if err != nil {
		logger.Error("unable to generate backstage legacy token", slog.Any("error", err))
		return ""
	}
	return token
}
