package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sikaledger/sikaledger/internal/platform/db"
)

// Repository encapsulates DB operations for the general ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntryBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	GetMappedAccount(ctx context.Context, transactionType string, mappingType MappingType, floatAccountID *int64) (Account, error)
	UpsertAccount(ctx context.Context, code, name string, accountType AccountType) (Account, error)
	UpsertMapping(ctx context.Context, transactionType string, mappingType MappingType, floatAccountID *int64, accountID int64) (Mapping, error)
}

// TxRepository exposes methods available within a posting transaction.
type TxRepository interface {
	GetEntryBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error)
	InsertEntry(ctx context.Context, in PostingInput) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	ApplyLineBalances(ctx context.Context, lines []LineInput) error
	GetEntryWithLines(ctx context.Context, entryID int64) (Entry, []Line, error)
	UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed ledger repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetEntryBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error) {
	return getEntryBySource(ctx, r.db, module, sourceID)
}

func (r *repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, type, parent_id, balance, is_active, created_at, updated_at FROM gl_accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `SELECT id, code, name, type, parent_id, balance, is_active, created_at, updated_at FROM gl_accounts WHERE code=$1`, code).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) GetMappedAccount(ctx context.Context, transactionType string, mappingType MappingType, floatAccountID *int64) (Account, error) {
	query := `SELECT a.id, a.code, a.name, a.type, a.parent_id, a.balance, a.is_active, a.created_at, a.updated_at
FROM gl_mappings m JOIN gl_accounts a ON a.id = m.gl_account_id
WHERE m.transaction_type=$1 AND m.mapping_type=$2 AND m.is_active`
	args := []any{transactionType, string(mappingType)}
	if floatAccountID != nil {
		query += ` AND m.float_account_id=$3`
		args = append(args, *floatAccountID)
	} else {
		query += ` AND m.float_account_id IS NULL`
	}
	var a Account
	err := r.db.QueryRow(ctx, query, args...).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrMappingNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// UpsertAccount creates the account if the code is new; the loser of a
// concurrent race reads the winner's row.
func (r *repository) UpsertAccount(ctx context.Context, code, name string, accountType AccountType) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `INSERT INTO gl_accounts (code, name, type)
VALUES ($1, $2, $3)
ON CONFLICT ON CONSTRAINT uq_gl_accounts_code DO UPDATE SET updated_at=NOW()
RETURNING id, code, name, type, parent_id, balance, is_active, created_at, updated_at`, code, name, string(accountType)).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: upsert account %s: %w", code, err)
	}
	return a, nil
}

func (r *repository) UpsertMapping(ctx context.Context, transactionType string, mappingType MappingType, floatAccountID *int64, accountID int64) (Mapping, error) {
	query := `INSERT INTO gl_mappings (transaction_type, mapping_type, float_account_id, gl_account_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (transaction_type, mapping_type, float_account_id) WHERE is_active AND float_account_id IS NOT NULL
DO UPDATE SET updated_at=NOW()
RETURNING id, source_module, transaction_type, mapping_type, float_account_id, gl_account_id, is_active, created_at, updated_at`
	if floatAccountID == nil {
		query = `INSERT INTO gl_mappings (transaction_type, mapping_type, float_account_id, gl_account_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (transaction_type, mapping_type) WHERE is_active AND float_account_id IS NULL
DO UPDATE SET updated_at=NOW()
RETURNING id, source_module, transaction_type, mapping_type, float_account_id, gl_account_id, is_active, created_at, updated_at`
	}
	var m Mapping
	var mt string
	err := r.db.QueryRow(ctx, query, transactionType, string(mappingType), floatAccountID, accountID).
		Scan(&m.ID, &m.SourceModule, &m.TransactionType, &mt, &m.FloatAccountID, &m.AccountID, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Mapping{}, fmt.Errorf("ledger: upsert mapping %s/%s: %w", transactionType, mappingType, err)
	}
	m.MappingType = MappingType(mt)
	return m, nil
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. Used when the GL leg
// shares a transaction with other writes, such as the combined float posting.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetEntryBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error) {
	return getEntryBySource(ctx, r.tx, module, sourceID)
}

func (r *txRepository) InsertEntry(ctx context.Context, in PostingInput) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO gl_transactions (date, source_module, source_transaction_id, source_transaction_type, description, status, created_by)
VALUES ($1,$2,$3,$4,$5,'POSTED',$6) RETURNING id, created_at, updated_at`,
		in.Date, in.SourceModule, in.SourceTransactionID, in.SourceTransactionType, in.Description, in.CreatedBy)
	entry := Entry{
		Date:                  in.Date,
		SourceModule:          in.SourceModule,
		SourceTransactionID:   in.SourceTransactionID,
		SourceTransactionType: in.SourceTransactionType,
		Description:           in.Description,
		Status:                EntryStatusPosted,
		CreatedBy:             in.CreatedBy,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_gl_transactions_source" {
			return Entry{}, ErrDuplicateSource
		}
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO gl_transaction_lines (gl_transaction_id, gl_account_id, debit, credit)
VALUES ($1,$2,$3,$4)`, entryID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLineBalances maintains the cached gl_accounts balances. The sign
// follows the account's normal balance side.
func (r *txRepository) ApplyLineBalances(ctx context.Context, lines []LineInput) error {
	for _, line := range lines {
		cmd, err := r.tx.Exec(ctx, `UPDATE gl_accounts
SET balance = balance + CASE WHEN type IN ('ASSET','EXPENSE') THEN $2::numeric - $3::numeric ELSE $3::numeric - $2::numeric END,
    updated_at = NOW()
WHERE id=$1`, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit))
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAccountNotFound
		}
	}
	return nil
}

func (r *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (Entry, []Line, error) {
	var entry Entry
	err := r.tx.QueryRow(ctx, `SELECT id, date, source_module, source_transaction_id, source_transaction_type, description, status, created_by, created_at, updated_at
FROM gl_transactions WHERE id=$1`, entryID).
		Scan(&entry.ID, &entry.Date, &entry.SourceModule, &entry.SourceTransactionID, &entry.SourceTransactionType, &entry.Description, &entry.Status, &entry.CreatedBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, nil, ErrEntryNotFound
		}
		return Entry{}, nil, err
	}
	lines, err := scanLines(ctx, r.tx, entryID)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_transactions SET status=$2, updated_at=NOW() WHERE id=$1`, entryID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getEntryBySource(ctx context.Context, q querier, module, sourceID string) (Entry, []Line, error) {
	var entry Entry
	err := q.QueryRow(ctx, `SELECT id, date, source_module, source_transaction_id, source_transaction_type, description, status, created_by, created_at, updated_at
FROM gl_transactions WHERE source_module=$1 AND source_transaction_id=$2`, module, sourceID).
		Scan(&entry.ID, &entry.Date, &entry.SourceModule, &entry.SourceTransactionID, &entry.SourceTransactionType, &entry.Description, &entry.Status, &entry.CreatedBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, nil, ErrEntryNotFound
		}
		return Entry{}, nil, err
	}
	lines, err := scanLines(ctx, q, entry.ID)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, lines, nil
}

func scanLines(ctx context.Context, q querier, entryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, gl_transaction_id, gl_account_id, debit, credit, created_at
FROM gl_transaction_lines WHERE gl_transaction_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
