package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rosterd/rosterd/pkg/observability"
	"github.com/rosterd/rosterd/pkg/rbac"
)

const adminSeedReason = "initial system setup"

// AdminSeed describes the bootstrap administrator account.
type AdminSeed struct {
	Name     string
	Email    string
	Password string
}

// SeedAdmin ensures the bootstrap administrator exists with an active ceo
// role. Without it a fresh database has no account that can reach the
// management endpoints. Idempotent; a blank email disables seeding.
func SeedAdmin(ctx context.Context, store *Store, hasher *Hasher, roles *rbac.Service, seed AdminSeed, logger *observability.Logger) error {
	if seed.Email == "" {
		logger.Info("admin seed disabled")
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(seed.Email))

	existing, err := store.GetByEmail(ctx, email)
	if err == nil {
		return ensureAdminRole(ctx, roles, existing.ID, logger)
	}
	if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to look up admin account: %w", err)
	}

	hash, err := hasher.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}
	user := &User{Name: seed.Name, Email: email, PasswordHash: hash}

	tx, err := store.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := store.CreateUser(ctx, tx, user); err != nil {
		// Another replica seeded between our lookup and insert.
		if errors.Is(err, ErrDuplicateEmail) {
			return nil
		}
		return err
	}

	assignment := &rbac.Assignment{
		UserID:     user.ID,
		Role:       rbac.RoleCEO,
		AssignedBy: user.ID,
		Reason:     adminSeedReason,
	}
	if err := roles.Grant(ctx, tx, assignment, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"email":   email,
	}).Info("seeded admin account")
	return nil
}

func ensureAdminRole(ctx context.Context, roles *rbac.Service, userID int64, logger *observability.Logger) error {
	_, err := roles.AssignRole(ctx, rbac.AssignRequest{
		UserID:      userID,
		Role:        rbac.RoleCEO,
		Reason:      adminSeedReason,
		PerformedBy: userID,
	})
	if errors.Is(err, rbac.ErrDuplicateAssignment) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore admin role: %w", err)
	}
	logger.WithField("user_id", userID).Info("restored admin role")
	return nil
}
