package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/posting"
)

type accountResolver interface {
	Resolve(ctx context.Context, transactionType string, floatAccountID int64, mappingType ledger.MappingType) (ledger.Account, error)
}

type transactionPoster interface {
	Post(ctx context.Context, in posting.Input) (posting.Result, error)
}

// PostOptions describe one branch transaction to journalise: the customer
// leg (amount) plus optional fee and commission legs, and an optional float
// movement recorded under the same reference.
type PostOptions struct {
	SourceModule        string
	SourceTransactionID string
	TransactionType     string
	FloatAccountID      int64
	Amount              float64
	Fee                 float64
	Commission          float64
	Description         string
	ActorID             int64
	// Movement, when set, applies a float movement of that type for Amount
	// against FloatAccountID with the source transaction id as reference.
	Movement string
}

// PostCLI journalises branch transactions the way a source module would:
// resolve the mapped accounts, build balanced lines, and hand both legs to
// the combined posting so they commit in one transaction.
type PostCLI struct {
	resolver accountResolver
	poster   transactionPoster
}

// NewPostCLI wires the command to the kernel services.
func NewPostCLI(k *Kernel) *PostCLI {
	return &PostCLI{resolver: k.Resolver, poster: k.Posting}
}

// Run resolves accounts and posts the journal entry together with the
// optional float movement.
func (c *PostCLI) Run(ctx context.Context, opts PostOptions) (posting.Result, error) {
	if opts.Amount <= 0 {
		return posting.Result{}, errors.New("cli: amount must be positive")
	}
	lines, err := c.composeLines(ctx, opts)
	if err != nil {
		return posting.Result{}, err
	}
	in := posting.Input{
		Entry: ledger.PostingInput{
			SourceModule:          opts.SourceModule,
			SourceTransactionID:   opts.SourceTransactionID,
			SourceTransactionType: opts.TransactionType,
			Description:           opts.Description,
			CreatedBy:             opts.ActorID,
			Lines:                 lines,
		},
	}
	if opts.Movement != "" {
		in.Movement = &float.MovementInput{
			FloatAccountID: opts.FloatAccountID,
			Amount:         opts.Amount,
			Type:           float.MovementType(strings.ToUpper(opts.Movement)),
			Reference:      opts.SourceTransactionID,
			CreatedBy:      opts.ActorID,
		}
	}
	return c.poster.Post(ctx, in)
}

// composeLines debits the main account for the gross take and credits the
// float liability plus any fee and commission income.
func (c *PostCLI) composeLines(ctx context.Context, opts PostOptions) ([]ledger.LineInput, error) {
	main, err := c.resolver.Resolve(ctx, opts.TransactionType, opts.FloatAccountID, ledger.MappingMain)
	if err != nil {
		return nil, err
	}
	floatAcc, err := c.resolver.Resolve(ctx, opts.TransactionType, opts.FloatAccountID, ledger.MappingFloat)
	if err != nil {
		return nil, err
	}
	lines := []ledger.LineInput{
		{AccountID: main.ID, Debit: opts.Amount + opts.Fee + opts.Commission},
		{AccountID: floatAcc.ID, Credit: opts.Amount},
	}
	if opts.Fee > 0 {
		fee, err := c.resolver.Resolve(ctx, opts.TransactionType, opts.FloatAccountID, ledger.MappingFee)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ledger.LineInput{AccountID: fee.ID, Credit: opts.Fee})
	}
	if opts.Commission > 0 {
		commission, err := c.resolver.Resolve(ctx, opts.TransactionType, opts.FloatAccountID, ledger.MappingCommission)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ledger.LineInput{AccountID: commission.ID, Credit: opts.Commission})
	}
	return lines, nil
}
