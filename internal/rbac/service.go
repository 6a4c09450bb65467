package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRoleUnknown indicates no limit is configured for the role.
var ErrRoleUnknown = errors.New("rbac: role not configured")

// Repository reads role authorisation limits.
type Repository interface {
	GetRoleLimit(ctx context.Context, role string) (RoleLimit, error)
	SetRoleLimit(ctx context.Context, limit RoleLimit) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed role limit repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetRoleLimit(ctx context.Context, role string) (RoleLimit, error) {
	var limit RoleLimit
	err := r.db.QueryRow(ctx, `SELECT role, max_amount, updated_at FROM role_limits WHERE role=$1`, role).
		Scan(&limit.Role, &limit.MaxAmount, &limit.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleLimit{}, ErrRoleUnknown
		}
		return RoleLimit{}, err
	}
	return limit, nil
}

func (r *repository) SetRoleLimit(ctx context.Context, limit RoleLimit) error {
	_, err := r.db.Exec(ctx, `INSERT INTO role_limits (role, max_amount, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (role) DO UPDATE SET max_amount=EXCLUDED.max_amount, updated_at=NOW()`, limit.Role, limit.MaxAmount)
	return err
}

// Service answers authorisation ceiling questions for the reversal workflow.
type Service struct {
	repo Repository
}

// NewService constructs a Service backed by the provided repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CeilingFor returns the maximum amount the role may authorise. Unlimited
// roles report +Inf.
func (s *Service) CeilingFor(ctx context.Context, role string) (float64, error) {
	role = strings.TrimSpace(strings.ToUpper(role))
	if role == "" {
		return 0, errors.New("rbac: role required")
	}
	limit, err := s.repo.GetRoleLimit(ctx, role)
	if err != nil {
		return 0, err
	}
	return limit.Ceiling(), nil
}

// SetCeiling configures a role's ceiling. A nil maxAmount removes the cap.
func (s *Service) SetCeiling(ctx context.Context, role string, maxAmount *float64) error {
	role = strings.TrimSpace(strings.ToUpper(role))
	if role == "" {
		return errors.New("rbac: role required")
	}
	return s.repo.SetRoleLimit(ctx, RoleLimit{Role: role, MaxAmount: maxAmount})
}
