package posting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/platform/db"
)

// TxPorts bundles the tx-scoped repositories of both ledgers so the GL entry
// and the float movement of one business transaction share a transaction.
type TxPorts struct {
	Ledger ledger.TxRepository
	Floats float.TxRepository
}

// Repository opens the shared unit of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxPorts) error) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed unit of work.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxPorts) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, TxPorts{Ledger: ledger.NewTxRepository(tx), Floats: float.NewTxRepository(tx)})
	})
}
