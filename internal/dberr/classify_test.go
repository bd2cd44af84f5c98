package dberr

import (
	"errors"
	"testing"
)

func TestClassify_RuleTable(t *testing.T) {
	cases := []struct {
		msg      string
		category Category
		severity Severity
	}{
		{"connection refused", CategoryConnection, SeverityHigh},
		{"read ECONNRESET", CategoryConnection, SeverityHigh},
		{"network is unreachable", CategoryConnection, SeverityHigh},
		{"SQL logic error: near \"SELEC\": syntax error", CategorySyntax, SeverityLow},
		{"UNIQUE constraint failed: posts.slug", CategoryConstraint, SeverityMedium},
		{"FOREIGN KEY constraint failed", CategoryConstraint, SeverityMedium},
		{"database is busy", CategoryTimeout, SeverityMedium},
		{"context deadline exceeded", CategoryTimeout, SeverityMedium},
		{"attempt to write a readonly database", CategoryPermission, SeverityHigh},
		{"access denied for admin statement", CategoryPermission, SeverityHigh},
		{"database disk image is malformed", CategoryCorruption, SeverityCritical},
		{"file is not a database", CategoryCorruption, SeverityCritical},
		{"database or disk is full", CategorySpace, SeverityCritical},
		{"database table is locked", CategoryLock, SeverityMedium},
		{"deadlock detected", CategoryLock, SeverityMedium},
		{"something entirely else", CategoryUnknown, SeverityMedium},
	}
	for _, tc := range cases {
		e := Classify(errors.New(tc.msg), "test")
		if e.Category != tc.category || e.Severity != tc.severity {
			t.Fatalf("Classify(%q) = (%s, %s), want (%s, %s)",
				tc.msg, e.Category, e.Severity, tc.category, tc.severity)
		}
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "connection timeout" matches both the connection and timeout rules;
	// the connection rule is declared first and must win.
	e := Classify(errors.New("connection timeout while opening database"), "test")
	if e.Category != CategoryConnection {
		t.Fatalf("expected connection (first match), got %s", e.Category)
	}
}

func TestClassify_PreservesCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: posts.slug")
	e := Classify(cause, "insert post")
	if !errors.Is(e, cause) {
		t.Fatalf("classified error must unwrap to the original")
	}
	if e.Cause() != cause {
		t.Fatalf("Cause() must return the original error unchanged")
	}
	if e.Message != cause.Error() {
		t.Fatalf("message mismatch: %q", e.Message)
	}
	if e.Context != "insert post" {
		t.Fatalf("context mismatch: %q", e.Context)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("id and timestamp must be populated: %+v", e)
	}
	if e.Resolved || e.RecoveryAttempts != 0 {
		t.Fatalf("fresh classification must start unresolved with zero attempts")
	}
}
