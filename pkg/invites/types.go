// Package invites implements the invitation flow: a manager invites an email
// address into a role, and accepting the invitation creates the account with
// that role already assigned.
package invites

import (
	"time"

	"github.com/rosterd/rosterd/pkg/rbac"
)

// Status is the closed set of invitation states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Valid reports whether the status is a member of the closed set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Invitation is one pending or settled invite. Token is the secret handle
// mailed to the invitee; only pending invitations can be accepted.
type Invitation struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Role           rbac.Role  `json:"role"`
	DepartmentID   *int64     `json:"department_id,omitempty"`
	InvitedBy      int64      `json:"invited_by"`
	InvitedAt      time.Time  `json:"invited_at"`
	Token          string     `json:"token,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Status         Status     `json:"status"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedUserID *int64     `json:"accepted_user_id,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// Expired reports whether a pending invitation's deadline has passed.
func (i Invitation) Expired(now time.Time) bool {
	return i.Status == StatusPending && !i.ExpiresAt.After(now)
}
