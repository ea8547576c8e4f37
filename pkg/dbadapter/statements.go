package dbadapter

import "strings"

// isQueryStatement reports whether sqlText looks like it returns rows
// (SELECT/WITH/EXPLAIN/SHOW/PRAGMA) versus mutating/DDL statements that
// should go through db.Exec rather than db.Query.
func isQueryStatement(sqlText string) bool {
	leading := firstKeyword(sqlText)
	switch leading {
	case "select", "with", "explain", "show", "pragma", "describe", "desc":
		return true
	default:
		return false
	}
}

// isMutatingStatement reports whether sqlText would modify data or schema,
// used to enforce per-adapter read-only mode.
func isMutatingStatement(sqlText string) bool {
	switch firstKeyword(sqlText) {
	case "insert", "update", "delete", "merge", "replace",
		"create", "alter", "drop", "truncate", "grant", "revoke":
		return true
	default:
		return false
	}
}

func firstKeyword(sqlText string) string {
	s := strings.TrimSpace(sqlText)
	if s == "" {
		return ""
	}
	// Skip leading SQL comments.
	for strings.HasPrefix(s, "--") || strings.HasPrefix(s, "/*") {
		if strings.HasPrefix(s, "--") {
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = strings.TrimSpace(s[i+1:])
			} else {
				return ""
			}
		} else {
			if i := strings.Index(s, "*/"); i >= 0 {
				s = strings.TrimSpace(s[i+2:])
			} else {
				return ""
			}
		}
	}
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	word := s
	if end >= 0 {
		word = s[:end]
	}
	return strings.ToLower(word)
}
