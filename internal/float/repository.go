package float

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sikaledger/sikaledger/internal/platform/db"
)

// Repository encapsulates DB operations for float accounts.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	FindMovementByReference(ctx context.Context, reference string) (Movement, error)
	ListMovements(ctx context.Context, accountID int64, limit int) ([]Movement, error)
}

// TxRepository exposes methods available within a movement transaction.
type TxRepository interface {
	// GetAccountForUpdate locks the account row so concurrent movements on
	// the same account serialise.
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateBalance(ctx context.Context, id int64, balance float64) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed float repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, accountQuery+` WHERE id=$1`, id))
}

func (r *repository) FindMovementByReference(ctx context.Context, reference string) (Movement, error) {
	var m Movement
	err := r.db.QueryRow(ctx, `SELECT id, float_account_id, movement_type, amount, balance_before, balance_after, reference, created_by, created_at
FROM float_transactions WHERE reference=$1 ORDER BY id ASC LIMIT 1`, reference).
		Scan(&m.ID, &m.FloatAccountID, &m.Type, &m.Amount, &m.BalanceBefore, &m.BalanceAfter, &m.Reference, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

func (r *repository) ListMovements(ctx context.Context, accountID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT id, float_account_id, movement_type, amount, balance_before, balance_after, reference, created_by, created_at
FROM float_transactions WHERE float_account_id=$1 ORDER BY id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.FloatAccountID, &m.Type, &m.Amount, &m.BalanceBefore, &m.BalanceAfter, &m.Reference, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. Used when the float leg
// shares a transaction with the GL posting of the same business transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, accountQuery+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateBalance(ctx context.Context, id int64, balance float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE float_accounts SET balance=$2, updated_at=NOW() WHERE id=$1`, id, toNumeric(balance))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO float_transactions (float_account_id, movement_type, amount, balance_before, balance_after, reference, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		m.FloatAccountID, string(m.Type), toNumeric(m.Amount), toNumeric(m.BalanceBefore), toNumeric(m.BalanceAfter), m.Reference, m.CreatedBy).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

const accountQuery = `SELECT id, branch_id, account_type, provider, account_number, balance, min_threshold, max_threshold, is_active, created_at, updated_at
FROM float_accounts`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.BranchID, &a.AccountType, &a.Provider, &a.AccountNumber, &a.Balance, &a.MinThreshold, &a.MaxThreshold, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
