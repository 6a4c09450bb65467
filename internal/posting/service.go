package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/observability"
	"github.com/sikaledger/sikaledger/internal/shared"
)

// glPoster is the slice of the ledger poster the combined posting needs.
type glPoster interface {
	PostInTx(ctx context.Context, tx ledger.TxRepository, input ledger.PostingInput) (ledger.Entry, bool, error)
	GetBySource(ctx context.Context, module, sourceID string) (ledger.Entry, []ledger.Line, error)
}

// floatLedger is the slice of the float ledger the combined posting needs.
type floatLedger interface {
	ApplyMovementInTx(ctx context.Context, tx float.TxRepository, input float.MovementInput) (float.Movement, float.Account, error)
	EvaluateThresholds(ctx context.Context, account float.Account)
	FindMovementByReference(ctx context.Context, reference string) (float.Movement, error)
}

type auditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Input couples the journal entry of a business transaction with the float
// movement recorded for it. Movement may be nil for GL-only postings.
type Input struct {
	Entry    ledger.PostingInput
	Movement *float.MovementInput
}

// Result reports what is committed for the transaction. Duplicate is set
// when the entry already existed and nothing new was written.
type Result struct {
	Entry     ledger.Entry    `json:"entry"`
	Movement  *float.Movement `json:"movement,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// Service posts the GL entry and the float movement of one business
// transaction in a single database transaction: neither leg can commit
// without the other.
type Service struct {
	repo    Repository
	poster  glPoster
	floats  floatLedger
	audit   auditPort
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService constructs the combined posting service.
func NewService(repo Repository, poster glPoster, floats floatLedger, audit auditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, poster: poster, floats: floats, audit: audit, metrics: metrics, logger: logger}
}

// Post writes both legs inside one transaction. A failed float leg rolls the
// GL entry back. Replays are idempotent on the entry's source key: the stored
// entry returns, the movement is not applied again, and the one recorded
// under the movement reference is looked up instead.
func (s *Service) Post(ctx context.Context, in Input) (Result, error) {
	if err := in.Entry.Validate(); err != nil {
		return Result{}, err
	}
	if in.Movement != nil && in.Movement.Reference == "" {
		in.Movement.Reference = in.Entry.SourceTransactionID
	}
	var res Result
	var account float.Account
	var moved bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxPorts) error {
		entry, duplicate, err := s.poster.PostInTx(ctx, tx.Ledger, in.Entry)
		if err != nil {
			return err
		}
		res.Entry = entry
		res.Duplicate = duplicate
		if duplicate || in.Movement == nil {
			return nil
		}
		movement, acct, err := s.floats.ApplyMovementInTx(ctx, tx.Floats, *in.Movement)
		if err != nil {
			return fmt.Errorf("posting: float leg for %s/%s: %w", in.Entry.SourceModule, in.Entry.SourceTransactionID, err)
		}
		res.Movement = &movement
		account = acct
		moved = true
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateSource) {
		// The entry insert lost a concurrent race and the transaction is
		// gone; adopt the winner through a fresh read.
		winner, lines, getErr := s.poster.GetBySource(ctx, in.Entry.SourceModule, in.Entry.SourceTransactionID)
		if getErr != nil {
			return Result{}, getErr
		}
		winner.Lines = lines
		res = Result{Entry: winner, Duplicate: true}
		err = nil
	}
	if err != nil {
		return Result{}, err
	}
	if res.Duplicate {
		if in.Movement != nil {
			if movement, findErr := s.floats.FindMovementByReference(ctx, in.Movement.Reference); findErr == nil {
				res.Movement = &movement
			}
		}
		s.logger.Info("duplicate posting suppressed",
			slog.String("source_module", in.Entry.SourceModule),
			slog.String("source_transaction_id", in.Entry.SourceTransactionID),
			slog.Int64("gl_transaction_id", res.Entry.ID))
		s.metrics.IncDuplicateSuppressed(in.Entry.SourceModule)
		return res, nil
	}
	if moved {
		s.floats.EvaluateThresholds(ctx, account)
	}
	s.metrics.IncPosting(in.Entry.SourceModule)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.Entry.CreatedBy,
			Action:   "posting.post",
			Entity:   "gl_transaction",
			EntityID: fmt.Sprintf("%d", res.Entry.ID),
			Meta: map[string]any{
				"source_module":         in.Entry.SourceModule,
				"source_transaction_id": in.Entry.SourceTransactionID,
			},
		})
	}
	return res, nil
}
