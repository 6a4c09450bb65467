package ledger

import (
	"errors"
	"fmt"
	"time"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// MappingType enumerates the roles a GL account can play for a transaction type.
type MappingType string

const (
	MappingMain       MappingType = "MAIN"
	MappingFee        MappingType = "FEE"
	MappingCommission MappingType = "COMMISSION"
	MappingAsset      MappingType = "ASSET"
	MappingFloat      MappingType = "FLOAT"
	MappingRevenue    MappingType = "REVENUE"
	MappingReversal   MappingType = "REVERSAL"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "PENDING"
	EntryStatusPosted  EntryStatus = "POSTED"
	EntryStatusVoided  EntryStatus = "VOIDED"
)

// Account models a chart of accounts node. Balance is a cached figure
// maintained by the poster; the lines remain the source of truth.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	Balance   float64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Mapping links a transaction type (optionally scoped to a float account)
// to a ledger account.
type Mapping struct {
	ID              int64
	SourceModule    string
	TransactionType string
	MappingType     MappingType
	FloatAccountID  *int64
	AccountID       int64
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Entry captures posting metadata for one journal entry.
type Entry struct {
	ID                    int64
	Date                  time.Time
	SourceModule          string
	SourceTransactionID   string
	SourceTransactionType string
	Description           string
	Status                EntryStatus
	CreatedBy             int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Lines                 []Line
}

// Line stores a debit or credit amount for an account.
type Line struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     float64
	Credit    float64
	CreatedAt time.Time
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date                  time.Time
	SourceModule          string
	SourceTransactionID   string
	SourceTransactionType string
	Description           string
	CreatedBy             int64
	Lines                 []LineInput
}

// VoidInput wraps parameters for voiding.
type VoidInput struct {
	EntryID int64
	ActorID int64
	Reason  string
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrAccountNotFound indicates a line references an unknown account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrMappingNotFound indicates no active mapping matched the lookup.
	ErrMappingNotFound = errors.New("ledger: account mapping not found")
	// ErrMappedAccountInactive indicates an active mapping points at a
	// deactivated account. An operator must fix the configuration; the
	// template fallback does not apply.
	ErrMappedAccountInactive = errors.New("ledger: mapping points at inactive account")
	// ErrNoTemplate indicates the built-in template table has no entry for
	// the requested key. This is a configuration gap an operator must fix.
	ErrNoTemplate = errors.New("ledger: no account template for mapping")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrDuplicateSource indicates the source is already posted.
	ErrDuplicateSource = errors.New("ledger: source transaction already posted")
)

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.SourceModule == "" {
		return errors.New("ledger: source module required")
	}
	if in.SourceTransactionID == "" {
		return errors.New("ledger: source transaction id required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("ledger: line %d has no amount", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if fmt.Sprintf("%.2f", debit) != fmt.Sprintf("%.2f", credit) {
		return ErrUnbalanced
	}
	return nil
}

// Amount returns the entry total, the sum of its debit lines.
func (e Entry) Amount() float64 {
	var total float64
	for _, line := range e.Lines {
		total += line.Debit
	}
	return total
}

// balanceDelta returns the signed change to a cached account balance for a
// debit/credit pair, following the account's normal balance side.
func balanceDelta(t AccountType, debit, credit float64) float64 {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return debit - credit
	default:
		return credit - debit
	}
}
