package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestResolvePrefersAccountScopedMapping(t *testing.T) {
	repo := newMemoryRepo(
		Account{ID: 10, Code: "2001", Type: AccountTypeLiability, IsActive: true},
		Account{ID: 11, Code: "2000", Type: AccountTypeLiability, IsActive: true},
	)
	scope := int64(3)
	if _, err := repo.UpsertMapping(context.Background(), "momo_float", MappingFloat, &scope, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpsertMapping(context.Background(), "momo_float", MappingFloat, nil, 11); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(repo, nil, nil)
	account, err := resolver.Resolve(context.Background(), "momo_float", 3, MappingFloat)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.ID != 10 {
		t.Fatalf("resolved account %d, want account-scoped 10", account.ID)
	}
}

func TestResolveFallsBackToTypeLevelMapping(t *testing.T) {
	repo := newMemoryRepo(Account{ID: 11, Code: "2000", Type: AccountTypeLiability, IsActive: true})
	if _, err := repo.UpsertMapping(context.Background(), "momo_float", MappingFloat, nil, 11); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(repo, nil, nil)
	account, err := resolver.Resolve(context.Background(), "momo_float", 3, MappingFloat)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.ID != 11 {
		t.Fatalf("resolved account %d, want type-level 11", account.ID)
	}
}

func TestResolveProvisionsFromTemplate(t *testing.T) {
	repo := newMemoryRepo()
	resolver := NewResolver(repo, nil, nil)

	account, err := resolver.Resolve(context.Background(), "momo_float", 3, MappingFloat)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.Code != "2001" {
		t.Fatalf("provisioned code = %s, want 2001", account.Code)
	}
	if account.Type != AccountTypeLiability {
		t.Fatalf("provisioned type = %s, want LIABILITY", account.Type)
	}

	// The mapping is persisted account-scoped, so the next call hits it
	// without another provision.
	scope := int64(3)
	mapped, err := repo.GetMappedAccount(context.Background(), "momo_float", MappingFloat, &scope)
	if err != nil {
		t.Fatalf("mapping not persisted: %v", err)
	}
	if mapped.ID != account.ID {
		t.Fatalf("mapping points at %d, want %d", mapped.ID, account.ID)
	}
}

func TestResolveProvisionsTypeLevelWhenUnscoped(t *testing.T) {
	repo := newMemoryRepo()
	resolver := NewResolver(repo, nil, nil)

	account, err := resolver.Resolve(context.Background(), "power_float", 0, MappingFee)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if account.Code != "4003" {
		t.Fatalf("provisioned code = %s, want 4003 (fee default)", account.Code)
	}
	mapped, err := repo.GetMappedAccount(context.Background(), "power_float", MappingFee, nil)
	if err != nil {
		t.Fatalf("type-level mapping not persisted: %v", err)
	}
	if mapped.ID != account.ID {
		t.Fatalf("mapping points at %d, want %d", mapped.ID, account.ID)
	}
}

func TestResolveRejectsInactiveMappedAccount(t *testing.T) {
	repo := newMemoryRepo(Account{ID: 10, Code: "2001", Type: AccountTypeLiability, IsActive: false})
	scope := int64(3)
	if _, err := repo.UpsertMapping(context.Background(), "momo_float", MappingFloat, &scope, 10); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(repo, nil, nil)
	_, err := resolver.Resolve(context.Background(), "momo_float", 3, MappingFloat)
	if !errors.Is(err, ErrMappedAccountInactive) {
		t.Fatalf("expected ErrMappedAccountInactive, got %v", err)
	}

	// The template fallback must not repoint the live mapping.
	mapped, getErr := repo.GetMappedAccount(context.Background(), "momo_float", MappingFloat, &scope)
	if getErr != nil {
		t.Fatalf("mapping lookup: %v", getErr)
	}
	if mapped.ID != 10 {
		t.Fatalf("mapping repointed to %d, want 10", mapped.ID)
	}
}

func TestResolveNoTemplate(t *testing.T) {
	repo := newMemoryRepo()
	resolver := NewResolver(repo, nil, nil)

	_, err := resolver.Resolve(context.Background(), "momo_float", 0, MappingType("NOT_A_ROLE"))
	if !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
}

func TestResolveRequiresTransactionType(t *testing.T) {
	resolver := NewResolver(newMemoryRepo(), nil, nil)
	if _, err := resolver.Resolve(context.Background(), "", 0, MappingMain); err == nil {
		t.Fatal("empty transaction type accepted")
	}
}
