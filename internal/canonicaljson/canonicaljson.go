// Package canonicaljson produces a stable, sorted-key, compact-separator
// JSON encoding used to hash request payloads for the maker-checker
// approval gate (spec.md §4.8 "Canonical payload hash").
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Hash returns the hex-encoded SHA-256 of the canonical encoding of raw.
//
//   - If contentType is "application/json" (ignoring parameters) and raw
//     parses as JSON, it is re-serialized with sorted object keys and
//     compact separators before hashing.
//   - Otherwise the raw bytes are hashed as-is.
//   - A nil/empty body hashes to the SHA-256 of the empty string.
func Hash(raw []byte, contentType string) string {
	if isJSONContentType(contentType) {
		var value any
		if err := json.Unmarshal(raw, &value); err == nil {
			if canonical, err := Marshal(value); err == nil {
				return hashBytes(canonical)
			}
		}
	}
	return hashBytes(raw)
}

// HashValue canonicalizes and hashes an already-decoded JSON value
// (used when the caller already parsed the body, e.g. approval creation).
func HashValue(value any) string {
	canonical, err := Marshal(value)
	if err != nil {
		return hashBytes(nil)
	}
	return hashBytes(canonical)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func isJSONContentType(contentType string) bool {
	for i, c := range contentType {
		if c == ';' {
			contentType = contentType[:i]
			break
		}
	}
	return trimSpaceLower(contentType) == "application/json"
}

func trimSpaceLower(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	s = s[start:end]
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Marshal re-encodes value with sorted object keys and compact separators
// (no extra whitespace), matching Python's
// json.dumps(value, sort_keys=True, separators=(",", ":")).
func Marshal(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encode(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}
