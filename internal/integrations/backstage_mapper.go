package integrations

import "strconv"

// ciToBackstageItem translates a CI payload (the API's JSON-shaped view
// of a CI, or a NetBox-sourced record already run through reconciliation)
// into a Backstage Catalog ingest item. Grounded line-for-line on
// _ci_to_backstage_item.
func ciToBackstageItem(ci map[string]any, sourceSystem string) map[string]any {
	attributes, _ := ci["attributes"].(map[string]any)
	if attributes == nil {
		attributes = map[string]any{}
	}

	environment := firstNonEmptyString(ci["environment"], attributes["environment"], "unknown")
	ciClass := firstNonEmptyString(ci["ciClass"], ci["ci_type"], "unknown")
	canonicalName := firstNonEmptyString(ci["canonicalName"], ci["name"], ci["id"], "unknown")
	lifecycleState := firstNonEmptyString(ci["lifecycleState"], ci["status"], "ACTIVE")
	status := firstNonEmptyString(ci["status"], lifecycleState)

	item := map[string]any{
		"ciClass":        ciClass,
		"canonicalName":  canonicalName,
		"environment":    environment,
		"lifecycleState": lifecycleState,
		"status":         status,
		"sourceSystem":   firstNonEmptyString(ci["sourceSystem"], sourceSystem),
	}

	if owner := firstNonEmptyString(ci["technicalOwner"], ci["owner"]); owner != "" {
		item["technicalOwner"] = owner
	}
	if supportGroup := firstNonEmptyString(ci["supportGroup"], attributes["support_group"]); supportGroup != "" {
		item["supportGroup"] = supportGroup
	}

	identities := ciIdentities(ci)
	if ciID, ok := ci["id"].(string); ok && ciID != "" && !hasIdentityScheme(identities, "cmdb_ci_id") {
		identities = append(identities, map[string]any{"scheme": "cmdb_ci_id", "value": ciID})
	}
	if len(identities) > 0 {
		item["identities"] = identities
	}
	if len(attributes) > 0 {
		item["attributes"] = attributes
	}

	return item
}

// relationshipToBackstageItem translates a relationship payload; returns
// nil when the endpoints are missing, matching _relationship_to_backstage_item's
// "invalid_relationship_payload" skip.
func relationshipToBackstageItem(payload map[string]any, sourceSystem string) map[string]any {
	sourceCIID := firstNonEmptyString(payload["fromCiId"], payload["source_ci_id"])
	targetCIID := firstNonEmptyString(payload["toCiId"], payload["target_ci_id"])
	if sourceCIID == "" || targetCIID == "" {
		return nil
	}
	return map[string]any{
		"fromCiId":     sourceCIID,
		"toCiId":       targetCIID,
		"type":         firstNonEmptyString(payload["type"], payload["relation_type"], "depends_on"),
		"sourceSystem": firstNonEmptyString(payload["sourceSystem"], sourceSystem),
	}
}

func ciIdentities(ci map[string]any) []map[string]any {
	raw, ok := ci["identities"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func hasIdentityScheme(identities []map[string]any, scheme string) bool {
	for _, ident := range identities {
		if s, _ := ident["scheme"].(string); s == scheme {
			return true
		}
	}
	return false
}

// firstNonEmptyString returns the first argument that is a non-empty
// string (or stringifiable non-nil scalar), falling through defaults the
// same way Python's `a or b or c` chain does for _ci_to_backstage_item's
// field fallbacks.
func firstNonEmptyString(values ...any) string {
	for _, v := range values {
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case nil:
			continue
		default:
			// Non-string scalars (e.g. numeric CI ids) still count as a
			// present value in the original's `or` chain.
			return stringifyScalar(t)
		}
	}
	return ""
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
