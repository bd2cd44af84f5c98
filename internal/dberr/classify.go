// Package dberr classifies database failures and drives bounded recovery.
//
// Classification is a pure, data-driven mapping: an ordered rule table of
// message substrings assigns each raw error a (category, severity) pair,
// first match wins. The recovery engine then walks an ordered list of
// strategies gated by category and per-strategy attempt budgets, and
// evaluates whether the enclosing operation may be retried. Handle never
// fails; a failure inside a strategy only marks that strategy as failed.
package dberr

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category identifies the diagnosed failure class.
type Category string

const (
	CategoryConnection Category = "connection"
	CategorySyntax     Category = "syntax"
	CategoryConstraint Category = "constraint"
	CategoryTimeout    Category = "timeout"
	CategoryPermission Category = "permission"
	CategoryCorruption Category = "corruption"
	CategorySpace      Category = "space"
	CategoryLock       Category = "lock"
	CategoryUnknown    Category = "unknown"
)

// Severity grades how serious a classified failure is. Critical failures
// additionally raise an out-of-band alert when handled.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ClassifiedError is a failure with its diagnosis and recovery bookkeeping.
// The wrapped cause is preserved so callers always receive the original
// error unchanged in shape.
type ClassifiedError struct {
	ID               string    `json:"id"`
	Category         Category  `json:"category"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	Context          string    `json:"context"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	Resolved         bool      `json:"resolved"`
	CreatedAt        time.Time `json:"created_at"`

	cause       error
	handleCount int
}

// Cause returns the original, unmodified error.
func (e *ClassifiedError) Cause() error { return e.cause }

// Unwrap makes the classification transparent to errors.Is/As.
func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Error() string { return e.Message }

// rule is one entry of the ordered classification table. The table is data,
// not control flow, so new patterns can be added without touching Classify.
type rule struct {
	patterns []string
	category Category
	severity Severity
}

// rules are evaluated in order against the lowercased error text; the first
// rule with a matching substring wins. Connection problems rank first since
// their symptoms ("connection reset", "network unreachable") often embed
// words that later rules would also match.
var rules = []rule{
	{[]string{"connection", "econn", "network", "no such host", "broken pipe"}, CategoryConnection, SeverityHigh},
	{[]string{"syntax", "parse error", "incomplete input"}, CategorySyntax, SeverityLow},
	{[]string{"constraint", "unique", "foreign key", "not null", "check failed"}, CategoryConstraint, SeverityMedium},
	{[]string{"busy", "timeout", "deadline exceeded"}, CategoryTimeout, SeverityMedium},
	{[]string{"permission", "unauthorized", "access denied", "readonly database"}, CategoryPermission, SeverityHigh},
	{[]string{"corrupt", "malformed", "not a database"}, CategoryCorruption, SeverityCritical},
	{[]string{"disk", "no space", "database or disk is full", "out of memory"}, CategorySpace, SeverityCritical},
	{[]string{"lock", "deadlock"}, CategoryLock, SeverityMedium},
}

// Classify maps a raw error and call-site context into a ClassifiedError.
// Unmatched errors fall through to (unknown, medium). Classify is pure: it
// allocates the diagnosis but mutates no shared state.
func Classify(err error, context string) *ClassifiedError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	category, severity := CategoryUnknown, SeverityMedium
	for _, r := range rules {
		if matchAny(lower, r.patterns) {
			category, severity = r.category, r.severity
			break
		}
	}

	return &ClassifiedError{
		ID:        uuid.NewString(),
		Category:  category,
		Severity:  severity,
		Message:   msg,
		Context:   context,
		CreatedAt: time.Now().UTC(),
		cause:     err,
	}
}

func matchAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
