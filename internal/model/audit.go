package model

import (
	"time"
)

type AuditLevel string

const (
	AuditInfo     AuditLevel = "INFO"
	AuditLow      AuditLevel = "LOW"
	AuditMedium   AuditLevel = "MEDIUM"
	AuditHigh     AuditLevel = "HIGH"
	AuditCritical AuditLevel = "CRITICAL"
)

// Severe reports whether entries at this level are written before the response is finalized.
func (l AuditLevel) Severe() bool {
	return l == AuditHigh || l == AuditCritical
}

// AuditEntry is an immutable record of one security-relevant decision.
type AuditEntry struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	ActorID     string                 `json:"actor_id,omitempty"`
	Event       string                 `json:"event"`
	Level       AuditLevel             `json:"level"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IP          string                 `json:"ip,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// AuditFilter narrows GetAuditLogs queries. Zero values mean "any".
type AuditFilter struct {
	ActorID string
	Event   string
	Level   AuditLevel
	From    *time.Time
	To      *time.Time
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page into the supported range.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type AuditPage struct {
	Entries []*AuditEntry `json:"entries"`
	Total   int64         `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ActivitySummary aggregates a user's audit trail over a time range.
type ActivitySummary struct {
	UserID     string               `json:"user_id"`
	From       time.Time            `json:"from"`
	To         time.Time            `json:"to"`
	Total      int64                `json:"total"`
	ByEvent    map[string]int64     `json:"by_event"`
	ByLevel    map[AuditLevel]int64 `json:"by_level"`
	Rejections int64                `json:"rejections"`
	FirstSeen  *time.Time           `json:"first_seen,omitempty"`
	LastSeen   *time.Time           `json:"last_seen,omitempty"`
}
