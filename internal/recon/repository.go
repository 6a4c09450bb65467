package recon

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the balances both sides of the reconciliation and
// persists snapshots.
type Repository interface {
	ListMappedAccounts(ctx context.Context) ([]MappedAccount, error)
	SumFloatBalances(ctx context.Context, floatAccountIDs []int64) (float64, error)
	SaveSnapshot(ctx context.Context, asOf time.Time, rows []Row) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed reconciliation repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListMappedAccounts(ctx context.Context) ([]MappedAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.code, a.balance, array_agg(DISTINCT m.float_account_id)
FROM gl_mappings m
JOIN gl_accounts a ON a.id = m.gl_account_id
WHERE m.is_active AND m.float_account_id IS NOT NULL
GROUP BY a.id, a.code, a.balance
ORDER BY a.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []MappedAccount
	for rows.Next() {
		var a MappedAccount
		if err := rows.Scan(&a.AccountID, &a.Code, &a.Balance, &a.FloatAccountIDs); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) SumFloatBalances(ctx context.Context, floatAccountIDs []int64) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM float_accounts WHERE id = ANY($1)`, floatAccountIDs).Scan(&total)
	return total, err
}

func (r *repository) SaveSnapshot(ctx context.Context, asOf time.Time, rows []Row) (int64, error) {
	var snapshotID int64
	err := r.db.QueryRow(ctx, `INSERT INTO recon_snapshots (as_of) VALUES ($1) RETURNING id`, asOf).Scan(&snapshotID)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if _, err := r.db.Exec(ctx, `INSERT INTO recon_snapshot_rows (snapshot_id, gl_account_code, gl_balance, float_balance, variance)
VALUES ($1,$2,$3,$4,$5)`, snapshotID, row.GLAccountCode, row.GLBalance, row.FloatBalance, row.Variance); err != nil {
			return 0, err
		}
	}
	return snapshotID, nil
}
