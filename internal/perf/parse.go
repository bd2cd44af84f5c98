// Package perf records per-statement performance telemetry for the database
// middleware. Every executed statement produces one Metric row persisted to
// the bounded query_metrics log; statements that exceed their fixed duration
// budget are flagged with a structured warning. Telemetry never fails the
// caller's operation.
package perf

import "strings"

// QueryType is the statement kind used for budget lookup and aggregation.
type QueryType string

// Statement kinds. Search is a read that goes through the FTS index; Batch
// is reserved for multi-statement transactions, which the client tags
// explicitly rather than deriving from text.
const (
	TypeRead    QueryType = "read"
	TypeWrite   QueryType = "write"
	TypeSearch  QueryType = "search"
	TypeBatch   QueryType = "batch"
	TypeUnknown QueryType = "unknown"
)

// Parse derives (kind, table) from the statement text with a best-effort
// scan of the first verb and its FROM/INTO/UPDATE target. Anything it cannot
// make sense of degrades to (TypeUnknown, "unknown") rather than failing.
func Parse(statement string) (QueryType, string) {
	fields := strings.Fields(strings.ToLower(statement))
	if len(fields) == 0 {
		return TypeUnknown, "unknown"
	}

	switch fields[0] {
	case "select", "with":
		table := targetAfter(fields, "from")
		if isSearch(fields, table) {
			return TypeSearch, table
		}
		return TypeRead, table
	case "insert", "replace":
		return TypeWrite, targetAfter(fields, "into")
	case "update":
		if len(fields) > 1 {
			return TypeWrite, trimIdent(fields[1])
		}
		return TypeWrite, "unknown"
	case "delete":
		return TypeWrite, targetAfter(fields, "from")
	case "pragma", "vacuum", "analyze", "reindex":
		return TypeUnknown, "unknown"
	default:
		return TypeUnknown, "unknown"
	}
}

// isSearch reports whether a read statement goes through the full-text
// index: either it targets an *_fts table or uses the MATCH operator.
func isSearch(fields []string, table string) bool {
	if strings.HasSuffix(table, "_fts") {
		return true
	}
	for _, f := range fields {
		if f == "match" {
			return true
		}
	}
	return false
}

// targetAfter returns the identifier following the given keyword, or
// "unknown" when the keyword is absent or trailing.
func targetAfter(fields []string, keyword string) string {
	for i, f := range fields {
		if f == keyword && i+1 < len(fields) {
			return trimIdent(fields[i+1])
		}
	}
	return "unknown"
}

// trimIdent strips quoting and trailing punctuation from an identifier
// token (e.g. `"posts",` -> `posts`).
func trimIdent(s string) string {
	s = strings.Trim(s, "\"'`[](),;")
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "unknown"
	}
	return s
}
