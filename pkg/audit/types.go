// Package audit records every role assignment mutation in an append-only
// trail and serves its query, statistics, and export surface.
package audit

import (
	"time"
)

// Metadata carries the request provenance and before/after detail of a
// mutation.
type Metadata struct {
	IPAddress          string     `json:"ip_address,omitempty"`
	UserAgent          string     `json:"user_agent,omitempty"`
	PreviousDepartment *int64     `json:"previous_department,omitempty"`
	NewDepartment      *int64     `json:"new_department,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Entry is one immutable audit row: who changed which role for whom, when,
// and why. Entries are written in the same transaction as the assignment
// mutation they describe.
type Entry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Role         string    `json:"role"`
	Action       string    `json:"action"`
	PerformedBy  int64     `json:"performed_by"`
	PerformedAt  time.Time `json:"performed_at"`
	DepartmentID *int64    `json:"department_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// Filter narrows audit searches. Nil fields match everything.
type Filter struct {
	UserID      *int64
	Role        *string
	Action      *string
	PerformedBy *int64
	StartDate   *time.Time
	EndDate     *time.Time

	Limit  int
	Offset int
}

// Performer is one row of the top-performers statistic, joined to the user
// record for display.
type Performer struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Count  int64  `json:"count"`
}

// DayCount is one bucket of the daily activity timeline.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// Stats aggregates the trail for the statistics endpoint.
type Stats struct {
	TotalEntries  int64            `json:"total_entries"`
	ActionCounts  map[string]int64 `json:"action_counts"`
	RoleCounts    map[string]int64 `json:"role_counts"`
	TopPerformers []Performer      `json:"top_performers"`
	Timeline      []DayCount       `json:"timeline"`
}

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportJSON || f == ExportCSV
}
