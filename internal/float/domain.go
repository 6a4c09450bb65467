package float

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MovementType enumerates float movement kinds.
type MovementType string

const (
	MovementCredit     MovementType = "CREDIT"
	MovementDebit      MovementType = "DEBIT"
	MovementRefill     MovementType = "REFILL"
	MovementRecharge   MovementType = "RECHARGE"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Account is an operational cash-equivalent balance owned by a branch,
// distinct from the formal chart of accounts. Mutated only through Ledger.
type Account struct {
	ID            int64
	BranchID      int64
	AccountType   string
	Provider      string
	AccountNumber string
	Balance       float64
	MinThreshold  float64
	MaxThreshold  float64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Movement is one append-only float ledger row. BalanceAfter of a row equals
// BalanceBefore of the chronologically next row for the same account.
type Movement struct {
	ID             int64
	FloatAccountID int64
	Type           MovementType
	Amount         float64
	BalanceBefore  float64
	BalanceAfter   float64
	Reference      string
	CreatedBy      int64
	CreatedAt      time.Time
}

// MovementInput describes a requested float mutation.
type MovementInput struct {
	FloatAccountID int64        `validate:"required"`
	Amount         float64      `validate:"required"`
	Type           MovementType `validate:"required,oneof=CREDIT DEBIT REFILL RECHARGE ADJUSTMENT"`
	Reference      string
	CreatedBy      int64
	// AllowOverdraft marks an authorised overdraft adjustment; only honoured
	// for ADJUSTMENT movements.
	AllowOverdraft bool
}

var (
	// ErrAccountNotFound indicates the float account does not exist.
	ErrAccountNotFound = errors.New("float: account not found")
	// ErrAccountInactive indicates the float account is deactivated.
	ErrAccountInactive = errors.New("float: account inactive")
	// ErrInsufficientFloat indicates the movement would overdraft the account.
	ErrInsufficientFloat = errors.New("float: insufficient balance")
	// ErrMovementNotFound indicates no movement matched the reference.
	ErrMovementNotFound = errors.New("float: movement not found")
)

// signedAmount derives the balance delta from the movement type. Credits,
// refills and recharges add; debits subtract; adjustments carry an explicit
// sign.
func (in MovementInput) signedAmount() (float64, error) {
	switch in.Type {
	case MovementCredit, MovementRefill, MovementRecharge:
		if in.Amount <= 0 {
			return 0, fmt.Errorf("float: %s amount must be positive", in.Type)
		}
		return in.Amount, nil
	case MovementDebit:
		if in.Amount <= 0 {
			return 0, fmt.Errorf("float: debit amount must be positive")
		}
		return -in.Amount, nil
	case MovementAdjustment:
		if in.Amount == 0 {
			return 0, errors.New("float: adjustment amount must be nonzero")
		}
		return in.Amount, nil
	default:
		return 0, fmt.Errorf("float: unknown movement type %q", in.Type)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
