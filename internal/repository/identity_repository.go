package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

// IdentityRepository answers identity questions from the users and
// user_roles tables. Unknown or inactive users hold no capabilities.
type IdentityRepository struct {
	db *database.DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db *database.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// IsSuperuser reports whether the actor is an active superuser.
func (r *IdentityRepository) IsSuperuser(ctx context.Context, actorID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT is_superuser
		FROM users
		WHERE id = $1 AND is_active = TRUE`, actorID).Scan(&ok)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check superuser")
	}
	return ok, nil
}

// HasActiveRole reports whether the actor currently holds an active
// assignment of roleCode.
func (r *IdentityRepository) HasActiveRole(ctx context.Context, actorID, roleCode string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
		    SELECT 1
		    FROM user_roles ur
		    JOIN users u ON u.id = ur.user_id
		    WHERE ur.user_id = $1
		      AND ur.role_code = $2
		      AND ur.is_active = TRUE
		      AND u.is_active = TRUE
		)`, actorID, roleCode).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check role assignment")
	}
	return ok, nil
}

// DisplayName returns the actor's display name; ok is false for unknown ids.
func (r *IdentityRepository) DisplayName(ctx context.Context, actorID string) (string, bool, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, actorID).Scan(&name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeInternal, "failed to get display name")
	}
	return name, true, nil
}

// Save upserts a user and replaces their role assignments.
func (r *IdentityRepository) Save(ctx context.Context, u *User) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO users (id, display_name, is_superuser, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET display_name = EXCLUDED.display_name,
			    is_superuser = EXCLUDED.is_superuser,
			    is_active    = EXCLUDED.is_active`,
			u.ID, u.DisplayName, u.IsSuperuser, u.IsActive)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save user")
		}

		if _, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, u.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace user roles")
		}
		for role, active := range u.Roles {
			_, err := r.db.Exec(ctx, `
				INSERT INTO user_roles (user_id, role_code, is_active)
				VALUES ($1, $2, $3)`, u.ID, role, active)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to save user role")
			}
		}
		return nil
	})
}
