package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sikaledger/sikaledger/internal/observability"
)

// Resolver finds the GL account for a transaction type and mapping role.
// When no mapping is configured it provisions one from the built-in template
// table so a business transaction is never blocked on accounting setup.
type Resolver struct {
	repo    Repository
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResolver constructs the mapping resolver.
func NewResolver(repo Repository, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, metrics: metrics, logger: logger}
}

// Resolve returns the GL account for (transactionType, floatAccountID,
// mappingType). floatAccountID zero means a type-level lookup. Lookup order:
// account-scoped mapping, type-level mapping, template fallback.
func (r *Resolver) Resolve(ctx context.Context, transactionType string, floatAccountID int64, mappingType MappingType) (Account, error) {
	if transactionType == "" {
		return Account{}, errors.New("ledger: transaction type required")
	}
	if floatAccountID != 0 {
		account, err := r.repo.GetMappedAccount(ctx, transactionType, mappingType, &floatAccountID)
		if err == nil {
			return requireActive(account, transactionType, mappingType)
		}
		if !errors.Is(err, ErrMappingNotFound) {
			return Account{}, err
		}
	}
	account, err := r.repo.GetMappedAccount(ctx, transactionType, mappingType, nil)
	if err == nil {
		return requireActive(account, transactionType, mappingType)
	}
	if !errors.Is(err, ErrMappingNotFound) {
		return Account{}, err
	}
	return r.provisionFromTemplate(ctx, transactionType, floatAccountID, mappingType)
}

// requireActive distinguishes a deliberately deactivated account from missing
// setup. Provisioning a template over a live mapping would leave the stored
// mapping and the returned account disagreeing, so the conflict surfaces
// instead.
func requireActive(account Account, transactionType string, mappingType MappingType) (Account, error) {
	if !account.IsActive {
		return Account{}, fmt.Errorf("%w: %s/%s -> %s", ErrMappedAccountInactive, transactionType, mappingType, account.Code)
	}
	return account, nil
}

// provisionFromTemplate creates the missing account and mapping. Both writes
// are upsert-on-conflict so concurrent callers converge on one row.
func (r *Resolver) provisionFromTemplate(ctx context.Context, transactionType string, floatAccountID int64, mappingType MappingType) (Account, error) {
	tpl, ok := templateFor(transactionType, mappingType)
	if !ok {
		return Account{}, fmt.Errorf("%w: %s/%s", ErrNoTemplate, transactionType, mappingType)
	}
	account, err := r.repo.UpsertAccount(ctx, tpl.Code, tpl.Name, tpl.Type)
	if err != nil {
		return Account{}, err
	}
	var scope *int64
	if floatAccountID != 0 {
		scope = &floatAccountID
	}
	if _, err := r.repo.UpsertMapping(ctx, transactionType, mappingType, scope, account.ID); err != nil {
		return Account{}, err
	}
	r.logger.Warn("used_fallback_mapping",
		slog.String("transaction_type", transactionType),
		slog.String("mapping_type", string(mappingType)),
		slog.Int64("float_account_id", floatAccountID),
		slog.String("account_code", account.Code))
	r.metrics.IncFallbackMapping(transactionType, string(mappingType))
	return account, nil
}
