package agentcore

import "encoding/json"

// wrapNoExecute delimits an untrusted action result with a per-entry random
// token so no prompt content can forge a closing delimiter and escape the
// wrapper (spec.md §6: "<NO_EXECUTE_{token}>...</NO_EXECUTE_{token}>").
// Grounded on internal/agent/tool_result_guard.go's ToolResultGuard.Apply,
// which wraps/redacts tool output before it re-enters a model's context;
// here the wrapping is unconditional on action governance (router.Catalog
// IsUntrusted) rather than secret-pattern matching, since the threat model
// is prompt injection from fetched content, not credential leakage.
func wrapNoExecute(token, content string) string {
	normalized := normalizeToJSON(content)
	return "<NO_EXECUTE_" + token + ">\n" + normalized + "\n</NO_EXECUTE_" + token + ">"
}

// normalizeToJSON leaves content as-is if it already parses as JSON
// (structured tool results commonly are); otherwise it wraps content as a
// JSON string so the delimited payload is always valid JSON regardless of
// what the untrusted action produced (spec.md §6: "content is normalized
// to JSON before wrapping").
func normalizeToJSON(content string) string {
	var probe json.RawMessage
	if json.Unmarshal([]byte(content), &probe) == nil {
		return content
	}
	b, err := json.Marshal(content)
	if err != nil {
		return content
	}
	return string(b)
}
