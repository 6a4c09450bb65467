package rbac

import (
	"context"
	"errors"
	"math"
	"testing"
)

type memLimits struct {
	limits map[string]RoleLimit
}

func (m *memLimits) GetRoleLimit(_ context.Context, role string) (RoleLimit, error) {
	limit, ok := m.limits[role]
	if !ok {
		return RoleLimit{}, ErrRoleUnknown
	}
	return limit, nil
}

func (m *memLimits) SetRoleLimit(_ context.Context, limit RoleLimit) error {
	m.limits[limit.Role] = limit
	return nil
}

func amount(v float64) *float64 { return &v }

func TestCeilingFor(t *testing.T) {
	repo := &memLimits{limits: map[string]RoleLimit{
		"CASHIER": {Role: "CASHIER", MaxAmount: amount(1000)},
		"ADMIN":   {Role: "ADMIN"},
	}}
	svc := NewService(repo)

	ceiling, err := svc.CeilingFor(context.Background(), "cashier")
	if err != nil {
		t.Fatalf("ceiling: %v", err)
	}
	if ceiling != 1000 {
		t.Fatalf("cashier ceiling = %v, want 1000", ceiling)
	}

	// Role names are normalised before lookup.
	if _, err := svc.CeilingFor(context.Background(), "  Cashier "); err != nil {
		t.Fatalf("normalised role rejected: %v", err)
	}

	// A nil max means unlimited.
	ceiling, err = svc.CeilingFor(context.Background(), "ADMIN")
	if err != nil {
		t.Fatalf("admin ceiling: %v", err)
	}
	if !math.IsInf(ceiling, 1) {
		t.Fatalf("admin ceiling = %v, want +Inf", ceiling)
	}

	if _, err := svc.CeilingFor(context.Background(), "AUDITOR"); !errors.Is(err, ErrRoleUnknown) {
		t.Fatalf("expected ErrRoleUnknown, got %v", err)
	}
	if _, err := svc.CeilingFor(context.Background(), ""); err == nil {
		t.Fatal("empty role accepted")
	}
}

func TestSetCeiling(t *testing.T) {
	repo := &memLimits{limits: map[string]RoleLimit{}}
	svc := NewService(repo)

	if err := svc.SetCeiling(context.Background(), "manager", amount(50000)); err != nil {
		t.Fatalf("set: %v", err)
	}
	ceiling, err := svc.CeilingFor(context.Background(), "MANAGER")
	if err != nil {
		t.Fatalf("ceiling: %v", err)
	}
	if ceiling != 50000 {
		t.Fatalf("ceiling = %v, want 50000", ceiling)
	}

	if err := svc.SetCeiling(context.Background(), "manager", nil); err != nil {
		t.Fatalf("remove cap: %v", err)
	}
	ceiling, _ = svc.CeilingFor(context.Background(), "MANAGER")
	if !math.IsInf(ceiling, 1) {
		t.Fatalf("uncapped ceiling = %v, want +Inf", ceiling)
	}
}
