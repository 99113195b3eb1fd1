package invites

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rosterd/rosterd/pkg/audit"
	"github.com/rosterd/rosterd/pkg/identity"
	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

var (
	// ErrEmailTaken is returned when the invitee already has an account.
	ErrEmailTaken = errors.New("a user with this email already exists")
	// ErrAlreadyInvited is returned when a live pending invitation exists.
	ErrAlreadyInvited = errors.New("a pending invitation for this email already exists")
	// ErrNotAcceptable carries the status of an invitation that can no
	// longer be accepted.
	ErrNotAcceptable = errors.New("invitation is not pending")
)

// StatusError wraps ErrNotAcceptable with the invitation's settled status.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invitation is %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrNotAcceptable
}

// Service implements the invitation flow on top of the stores.
type Service struct {
	store   *Store
	users   *identity.Store
	hasher  *identity.Hasher
	roles   *rbac.Service
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates the invitation service. metrics may be nil.
func NewService(store *Store, users *identity.Store, hasher *identity.Hasher, roles *rbac.Service, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		users:   users,
		hasher:  hasher,
		roles:   roles,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// SendRequest describes a new invitation.
type SendRequest struct {
	Email        string
	Role         rbac.Role
	DepartmentID *int64
	Message      string
	InvitedBy    int64
}

// Send creates a pending invitation. Emails that already have an account or
// a live pending invitation are rejected.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Invitation, error) {
	taken, err := s.users.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	pending, err := s.store.HasPending(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrAlreadyInvited
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	inv := &Invitation{
		Email:        req.Email,
		Role:         req.Role,
		DepartmentID: req.DepartmentID,
		InvitedBy:    req.InvitedBy,
		Token:        token,
		ExpiresAt:    time.Now().Add(s.ttl),
		Message:      req.Message,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.count("sent")
	s.logger.WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"role":          inv.Role,
		"by":            req.InvitedBy,
	}).Info("invitation sent")
	return inv, nil
}

// Lookup loads an invitation by token, settling expiry lazily: a pending
// invitation past its deadline is flipped to expired before being returned.
func (s *Service) Lookup(ctx context.Context, token string) (*Invitation, error) {
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if inv.Expired(time.Now()) {
		if err := s.store.SetStatus(ctx, nil, inv.ID, StatusPending, StatusExpired); err != nil &&
			!errors.Is(err, ErrInvitationNotFound) {
			return nil, err
		}
		inv.Status = StatusExpired
		s.count("expired")
	}
	return inv, nil
}

// AcceptRequest carries the account details for accepting an invitation.
type AcceptRequest struct {
	Token    string
	Name     string
	Password string
}

// Accept creates the account and grants the invited role in one transaction,
// marking the invitation accepted. Only pending, unexpired invitations can
// be accepted; settled ones fail with a StatusError.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*identity.User, *Invitation, error) {
	inv, err := s.Lookup(ctx, req.Token)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != StatusPending {
		return nil, nil, &StatusError{Status: inv.Status}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}
	user := &identity.User{Name: req.Name, Email: inv.Email, PasswordHash: hash}

	tx, err := s.users.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.CreateUser(ctx, tx, user); err != nil {
		return nil, nil, err
	}

	assignment := &rbac.Assignment{
		UserID:       user.ID,
		Role:         inv.Role,
		DepartmentID: inv.DepartmentID,
		AssignedBy:   inv.InvitedBy,
		Reason:       "invitation accepted",
	}
	if err := s.roles.Grant(ctx, tx, assignment, &audit.Metadata{}); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if err := s.store.MarkAccepted(ctx, tx, inv.ID, user.ID, now); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	inv.Status = StatusAccepted
	inv.AcceptedAt = &now
	inv.AcceptedUserID = &user.ID

	s.count("accepted")
	s.logger.WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"user_id":       user.ID,
	}).Info("invitation accepted")
	return user, inv, nil
}

// Revoke cancels a pending invitation.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusPending {
		return &StatusError{Status: inv.Status}
	}
	if err := s.store.SetStatus(ctx, nil, id, StatusPending, StatusRevoked); err != nil {
		return err
	}
	s.count("revoked")
	return nil
}

// Resend revokes a pending invitation and issues a fresh one with a new
// token and deadline. Settled invitations cannot be resent.
func (s *Service) Resend(ctx context.Context, id, performedBy int64) (*Invitation, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, &StatusError{Status: inv.Status}
	}

	if err := s.store.SetStatus(ctx, nil, id, StatusPending, StatusRevoked); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	fresh := &Invitation{
		Email:        inv.Email,
		Role:         inv.Role,
		DepartmentID: inv.DepartmentID,
		InvitedBy:    performedBy,
		Token:        token,
		ExpiresAt:    time.Now().Add(s.ttl),
		Message:      inv.Message,
	}
	if err := s.store.Create(ctx, fresh); err != nil {
		return nil, err
	}

	s.count("resent")
	return fresh, nil
}

func (s *Service) count(event string) {
	if s.metrics != nil {
		s.metrics.InvitationsTotal.WithLabelValues(event).Inc()
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
