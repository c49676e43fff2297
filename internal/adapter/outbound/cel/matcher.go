package cel

import "path/filepath"

// MatchUID reports whether a candidate entity-UID string matches a rule's
// UID pattern. "*" matches any UID; otherwise the pattern is matched with
// shell-glob semantics so operators can write `ToolCall::"delete_*"`
// without the engine needing a full entity store (the v0.1 simplification
// described for the principal entity shape applies identically to resource
// UIDs here).
func MatchUID(pattern, uid string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	matched, err := filepath.Match(pattern, uid)
	if err != nil {
		return false
	}
	return matched
}
