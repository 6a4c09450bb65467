package reversal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists transaction_reversals rows. State transitions are
// guarded by the current status in the WHERE clause so concurrent actors
// cannot double-apply a transition.
type Repository interface {
	Insert(ctx context.Context, r Reversal) (Reversal, error)
	Get(ctx context.Context, id int64) (Reversal, error)
	MarkApproved(ctx context.Context, id, approverID int64) error
	MarkRejected(ctx context.Context, id, approverID int64, notes string) error
	MarkCompleted(ctx context.Context, id, reversalGLID int64) error
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]Reversal, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed reversal repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const reversalColumns = `id, source_module, source_transaction_id, gl_transaction_id, reversal_type, amount, reason, status, requested_by, requested_at, approved_by, approved_at, notes, reversal_gl_transaction_id, completed_at, updated_at`

func (r *repository) Insert(ctx context.Context, rev Reversal) (Reversal, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO transaction_reversals
(source_module, source_transaction_id, gl_transaction_id, reversal_type, amount, reason, status, requested_by)
VALUES ($1,$2,$3,$4,$5,$6,'PENDING',$7)
RETURNING id, requested_at, updated_at`,
		rev.SourceModule, rev.SourceTransactionID, rev.GLTransactionID, string(rev.Type), rev.Amount, rev.Reason, rev.RequestedBy).
		Scan(&rev.ID, &rev.RequestedAt, &rev.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_transaction_reversals_open" {
			return Reversal{}, ErrAlreadyReversed
		}
		return Reversal{}, err
	}
	rev.Status = StatusPending
	return rev, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Reversal, error) {
	return scanReversal(r.db.QueryRow(ctx, `SELECT `+reversalColumns+` FROM transaction_reversals WHERE id=$1`, id))
}

func (r *repository) MarkApproved(ctx context.Context, id, approverID int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE transaction_reversals
SET status='APPROVED', approved_by=$2, approved_at=NOW(), updated_at=NOW()
WHERE id=$1 AND status='PENDING'`, id, approverID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *repository) MarkRejected(ctx context.Context, id, approverID int64, notes string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE transaction_reversals
SET status='REJECTED', approved_by=$2, approved_at=NOW(), notes=$3, updated_at=NOW()
WHERE id=$1 AND status='PENDING'`, id, approverID, notes)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *repository) MarkCompleted(ctx context.Context, id, reversalGLID int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE transaction_reversals
SET status='COMPLETED', reversal_gl_transaction_id=$2, completed_at=NOW(), updated_at=NOW()
WHERE id=$1 AND status='APPROVED'`, id, reversalGLID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *repository) ListStalePending(ctx context.Context, olderThan time.Duration) ([]Reversal, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.db.Query(ctx, `SELECT `+reversalColumns+` FROM transaction_reversals
WHERE status='PENDING' AND requested_at < $1 ORDER BY requested_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reversal
	for rows.Next() {
		rev, err := scanReversal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// transitionConflict distinguishes a missing row from a stale status guard.
func (r *repository) transitionConflict(ctx context.Context, id int64) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func scanReversal(row pgx.Row) (Reversal, error) {
	var rev Reversal
	var typ, status string
	err := row.Scan(&rev.ID, &rev.SourceModule, &rev.SourceTransactionID, &rev.GLTransactionID, &typ, &rev.Amount, &rev.Reason, &status,
		&rev.RequestedBy, &rev.RequestedAt, &rev.ApprovedBy, &rev.ApprovedAt, &rev.Notes, &rev.ReversalGLID, &rev.CompletedAt, &rev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reversal{}, ErrNotFound
		}
		return Reversal{}, err
	}
	rev.Type = Type(typ)
	rev.Status = Status(status)
	return rev, nil
}
