package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rosterd/rosterd/pkg/audit"
	"github.com/rosterd/rosterd/pkg/observability"
)

// ErrUnknownUser is returned when a mutation targets a user that does not
// exist.
var ErrUnknownUser = errors.New("user not found")

// SystemActor is the performed_by value for mutations made by the service
// itself rather than a user, such as sweeper expirations.
const SystemActor int64 = 0

// UserDirectory is the slice of the identity store the service needs.
type UserDirectory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

// Service applies role assignment mutations. Every mutation writes its audit
// entry in the same transaction; either both rows commit or neither does.
type Service struct {
	store   *Store
	audit   *audit.Store
	users   UserDirectory
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the role mutation service. metrics may be nil.
func NewService(store *Store, auditStore *audit.Store, users UserDirectory, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		audit:   auditStore,
		users:   users,
		logger:  logger,
		metrics: metrics,
	}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// AssignRequest describes a role grant.
type AssignRequest struct {
	UserID       int64
	Role         Role
	DepartmentID *int64
	ExpiresAt    *time.Time
	Reason       string
	PerformedBy  int64
	IPAddress    string
	UserAgent    string
}

// AssignRole grants a role. Duplicate active (user, role, department) triples
// return ErrDuplicateAssignment whether detected by the pre-check or by the
// partial unique index during a concurrent race.
func (s *Service) AssignRole(ctx context.Context, req AssignRequest) (*Assignment, error) {
	exists, err := s.users.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %d: %w", req.UserID, err)
	}
	if !exists {
		return nil, ErrUnknownUser
	}

	// A lapsed row (expired but still flagged active) does not block a fresh
	// grant, but it still occupies the partial unique index. It has to be
	// retired in the same transaction as the insert or the insert trips the
	// index until the sweeper runs.
	var lapsed *Assignment
	if existing, err := s.store.GetActiveAssignment(ctx, req.UserID, req.Role, req.DepartmentID); err == nil {
		if !existing.Expired(time.Now()) {
			return nil, ErrDuplicateAssignment
		}
		lapsed = existing
	} else if !errors.Is(err, ErrAssignmentNotFound) {
		return nil, err
	}

	assignment := &Assignment{
		UserID:       req.UserID,
		Role:         req.Role,
		DepartmentID: req.DepartmentID,
		AssignedBy:   req.PerformedBy,
		ExpiresAt:    req.ExpiresAt,
		Reason:       req.Reason,
		Metadata: &AssignmentMetadata{
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		},
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if lapsed != nil {
			if err := s.retireAssignment(ctx, tx, lapsed); err != nil {
				return err
			}
		}
		return s.Grant(ctx, tx, assignment, &audit.Metadata{
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			ExpiresAt: req.ExpiresAt,
		})
	})
	if err != nil {
		s.countMutation(AuditAssign, "error")
		return nil, err
	}

	s.countMutation(AuditAssign, "ok")
	s.logger.WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"role":    req.Role,
		"by":      req.PerformedBy,
	}).Info("role assigned")
	return assignment, nil
}

// Grant inserts an assignment and its audit entry using the caller's
// transaction. Used directly by flows that bundle more work into the same
// transaction, such as invitation acceptance.
func (s *Service) Grant(ctx context.Context, tx *sql.Tx, a *Assignment, meta *audit.Metadata) error {
	if err := s.store.CreateAssignment(ctx, tx, a); err != nil {
		return err
	}
	return s.audit.Record(ctx, tx, &audit.Entry{
		UserID:       a.UserID,
		Role:         string(a.Role),
		Action:       string(AuditAssign),
		PerformedBy:  a.AssignedBy,
		DepartmentID: a.DepartmentID,
		Reason:       a.Reason,
		Metadata:     meta,
	})
}

// RevokeRequest describes a role revocation.
type RevokeRequest struct {
	UserID       int64
	Role         Role
	DepartmentID *int64
	Reason       string
	PerformedBy  int64
	IPAddress    string
	UserAgent    string
}

// RevokeRole deactivates the active assignment for the (user, role,
// department) triple. The row stays as history; nothing cascades.
func (s *Service) RevokeRole(ctx context.Context, req RevokeRequest) error {
	assignment, err := s.store.GetActiveAssignment(ctx, req.UserID, req.Role, req.DepartmentID)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.DeactivateAssignment(ctx, tx, assignment.ID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, &audit.Entry{
			UserID:       req.UserID,
			Role:         string(req.Role),
			Action:       string(AuditRevoke),
			PerformedBy:  req.PerformedBy,
			DepartmentID: req.DepartmentID,
			Reason:       req.Reason,
			Metadata: &audit.Metadata{
				IPAddress: req.IPAddress,
				UserAgent: req.UserAgent,
			},
		})
	})
	if err != nil {
		s.countMutation(AuditRevoke, "error")
		return err
	}

	s.countMutation(AuditRevoke, "ok")
	s.logger.WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"role":    req.Role,
		"by":      req.PerformedBy,
	}).Info("role revoked")
	return nil
}

// UpdateRequest describes changes to an existing assignment. Nil fields are
// left unchanged.
type UpdateRequest struct {
	AssignmentID  int64
	DepartmentID  *int64
	SetDepartment bool
	ExpiresAt     *time.Time
	SetExpiry     bool
	IsActive      *bool
	Reason        string
	PerformedBy   int64
	IPAddress     string
	UserAgent     string
}

// UpdateAssignment modifies an assignment's department, expiry, or active
// flag, recording the before/after department in the audit entry.
func (s *Service) UpdateAssignment(ctx context.Context, req UpdateRequest) (*Assignment, error) {
	assignment, err := s.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}

	previousDepartment := assignment.DepartmentID
	if req.SetDepartment {
		assignment.DepartmentID = req.DepartmentID
	}
	if req.SetExpiry {
		assignment.ExpiresAt = req.ExpiresAt
	}
	if req.IsActive != nil {
		assignment.IsActive = *req.IsActive
	}
	if req.Reason != "" {
		assignment.Reason = req.Reason
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.UpdateAssignment(ctx, tx, assignment); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, &audit.Entry{
			UserID:       assignment.UserID,
			Role:         string(assignment.Role),
			Action:       string(AuditModify),
			PerformedBy:  req.PerformedBy,
			DepartmentID: assignment.DepartmentID,
			Reason:       req.Reason,
			Metadata: &audit.Metadata{
				IPAddress:          req.IPAddress,
				UserAgent:          req.UserAgent,
				PreviousDepartment: previousDepartment,
				NewDepartment:      assignment.DepartmentID,
				ExpiresAt:          assignment.ExpiresAt,
			},
		})
	})
	if err != nil {
		s.countMutation(AuditModify, "error")
		return nil, err
	}

	s.countMutation(AuditModify, "ok")
	return assignment, nil
}

// BulkItem is one element of a bulk assignment request.
type BulkItem struct {
	UserID       int64      `json:"user_id"`
	Role         Role       `json:"role"`
	DepartmentID *int64     `json:"department_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// BulkItemError reports one failed bulk element with its reason.
type BulkItemError struct {
	BulkItem
	Reason string `json:"reason"`
}

// BulkResult partitions a bulk request into successes and failures.
type BulkResult struct {
	Success []*Assignment   `json:"success"`
	Failed  []BulkItemError `json:"failed"`
}

// BulkAssign applies each item independently: one item's failure never rolls
// back another's success, and audit entries exist only for successes.
func (s *Service) BulkAssign(ctx context.Context, performedBy int64, reason, ip, userAgent string, items []BulkItem) *BulkResult {
	result := &BulkResult{
		Success: []*Assignment{},
		Failed:  []BulkItemError{},
	}

	for _, item := range items {
		if !item.Role.Valid() {
			result.Failed = append(result.Failed, BulkItemError{BulkItem: item, Reason: fmt.Sprintf("invalid role: %q", item.Role)})
			continue
		}
		assignment, err := s.AssignRole(ctx, AssignRequest{
			UserID:       item.UserID,
			Role:         item.Role,
			DepartmentID: item.DepartmentID,
			ExpiresAt:    item.ExpiresAt,
			Reason:       reason,
			PerformedBy:  performedBy,
			IPAddress:    ip,
			UserAgent:    userAgent,
		})
		if err != nil {
			result.Failed = append(result.Failed, BulkItemError{BulkItem: item, Reason: err.Error()})
			continue
		}
		result.Success = append(result.Success, assignment)
	}

	return result
}

// retireAssignment flips an expired assignment inactive and writes the
// expire audit entry, all inside the caller's transaction.
func (s *Service) retireAssignment(ctx context.Context, tx *sql.Tx, a *Assignment) error {
	if err := s.store.DeactivateAssignment(ctx, tx, a.ID); err != nil {
		return err
	}
	return s.audit.Record(ctx, tx, &audit.Entry{
		UserID:       a.UserID,
		Role:         string(a.Role),
		Action:       string(AuditExpire),
		PerformedBy:  SystemActor,
		DepartmentID: a.DepartmentID,
		Reason:       "assignment expired",
		Metadata:     &audit.Metadata{ExpiresAt: a.ExpiresAt},
	})
}

// SweepExpired reconciles lazily-expired rows: active assignments whose
// expiry has passed are flipped inactive with an expire audit entry. The
// read path already excludes these rows, so the sweep is idempotent and
// purely housekeeping.
func (s *Service) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	swept := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		expired, err := s.store.ExpiredAssignments(ctx, tx, batchSize)
		if err != nil {
			return err
		}
		for _, a := range expired {
			if err := s.retireAssignment(ctx, tx, a); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if swept > 0 && s.metrics != nil {
		s.metrics.AssignmentsExpired.Add(float64(swept))
	}
	return swept, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) countMutation(action AuditAction, status string) {
	if s.metrics != nil {
		s.metrics.RoleMutationsTotal.WithLabelValues(string(action), status).Inc()
	}
}
