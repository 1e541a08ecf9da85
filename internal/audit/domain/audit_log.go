package domain

import "time"

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// AuditLog represents an audit event. Entries are append-only.
type AuditLog struct {
	ID string
	// Seq is assigned by the store on insert and breaks ties between equal timestamps.
	Seq       int64
	User      string
	Action    string
	Resource  string
	Details   string
	Severity  Severity
	IP        string
	Timestamp time.Time
}

// Filter narrows a listing of audit entries. Zero fields match everything.
type Filter struct {
	User     string
	Resource string
	Action   string
	Severity Severity
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether a satisfies every set field of f.
func (f Filter) Matches(a *AuditLog) bool {
	if f.User != "" && a.User != f.User {
		return false
	}
	if f.Resource != "" && a.Resource != f.Resource {
		return false
	}
	if f.Action != "" && a.Action != f.Action {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if !f.From.IsZero() && a.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Newer reports whether a sorts before b in newest-first order.
func Newer(a, b *AuditLog) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq > b.Seq
}
