package float

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Ledger owns float account balances. Every operational transaction mutates
// exactly one float account through ApplyMovement.
type Ledger struct {
	repo     Repository
	monitor  *Monitor
	validate *validator.Validate
	now      func() time.Time
}

// NewLedger constructs the float ledger. monitor may be nil when threshold
// evaluation is not wanted (tests, backfills).
func NewLedger(repo Repository, monitor *Monitor) *Ledger {
	return &Ledger{
		repo:     repo,
		monitor:  monitor,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// ApplyMovement mutates one float account and records the movement with its
// before/after balance inside a single transaction. The account row is locked
// for the duration so concurrent movements serialise. Threshold evaluation
// runs after commit and never fails the movement.
func (l *Ledger) ApplyMovement(ctx context.Context, input MovementInput) (Movement, error) {
	var movement Movement
	var account Account
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, acct, err := l.ApplyMovementInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		movement = m
		account = acct
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	l.EvaluateThresholds(ctx, account)
	return movement, nil
}

// ApplyMovementInTx applies the movement against the caller's open
// transaction, so the float leg can commit atomically with the GL posting of
// the same business transaction. The account is returned with its updated
// balance; the caller evaluates thresholds after commit.
func (l *Ledger) ApplyMovementInTx(ctx context.Context, tx TxRepository, input MovementInput) (Movement, Account, error) {
	if err := l.validate.Struct(input); err != nil {
		return Movement{}, Account{}, err
	}
	signed, err := input.signedAmount()
	if err != nil {
		return Movement{}, Account{}, err
	}
	if input.Reference == "" {
		input.Reference = uuid.NewString()
	}
	acct, err := tx.GetAccountForUpdate(ctx, input.FloatAccountID)
	if err != nil {
		return Movement{}, Account{}, err
	}
	if !acct.IsActive {
		return Movement{}, Account{}, ErrAccountInactive
	}
	before := acct.Balance
	after := round2(before + signed)
	if after < 0 && !(input.AllowOverdraft && input.Type == MovementAdjustment) {
		return Movement{}, Account{}, ErrInsufficientFloat
	}
	if err := tx.UpdateBalance(ctx, acct.ID, after); err != nil {
		return Movement{}, Account{}, err
	}
	inserted, err := tx.InsertMovement(ctx, Movement{
		FloatAccountID: acct.ID,
		Type:           input.Type,
		Amount:         signed,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Reference:      input.Reference,
		CreatedBy:      input.CreatedBy,
	})
	if err != nil {
		return Movement{}, Account{}, err
	}
	acct.Balance = after
	return inserted, acct, nil
}

// EvaluateThresholds runs the threshold monitor for a post-commit account
// state. Alerting never fails the movement.
func (l *Ledger) EvaluateThresholds(ctx context.Context, account Account) {
	if l.monitor != nil {
		l.monitor.Evaluate(ctx, account)
	}
}

// GetAccount fetches a float account.
func (l *Ledger) GetAccount(ctx context.Context, id int64) (Account, error) {
	return l.repo.GetAccount(ctx, id)
}

// FindMovementByReference fetches the first movement recorded under a
// reference. Used by the reversal workflow to locate the original mutation
// and as its completion idempotency check.
func (l *Ledger) FindMovementByReference(ctx context.Context, reference string) (Movement, error) {
	if reference == "" {
		return Movement{}, errors.New("float: reference required")
	}
	return l.repo.FindMovementByReference(ctx, reference)
}

// ListMovements returns recent movements for an account, newest first.
func (l *Ledger) ListMovements(ctx context.Context, accountID int64, limit int) ([]Movement, error) {
	return l.repo.ListMovements(ctx, accountID, limit)
}
