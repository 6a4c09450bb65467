package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sikaledger/sikaledger/internal/observability"
	"github.com/sikaledger/sikaledger/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Poster coordinates posting and voiding journal entries.
type Poster struct {
	repo    Repository
	audit   AuditPort
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPoster constructs the ledger poster.
func NewPoster(repo Repository, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// PostForTransaction validates and persists a balanced journal entry for a
// source transaction. Posting is idempotent on (sourceModule,
// sourceTransactionID): a duplicate call returns the stored entry unchanged.
func (p *Poster) PostForTransaction(ctx context.Context, input PostingInput) (Entry, error) {
	if err := input.Validate(); err != nil {
		return Entry{}, err
	}
	if input.Date.IsZero() {
		input.Date = p.now()
	}
	var entry Entry
	var duplicate bool
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, dup, err := p.PostInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = posted
		duplicate = dup
		return nil
	})
	if errors.Is(err, ErrDuplicateSource) {
		// The insert lost a race to a concurrent poster. Postgres aborts the
		// transaction on the failed statement, and the repeatable-read
		// snapshot predates the winner's commit anyway, so the winner's row
		// is only reachable through a fresh read outside it.
		winner, lines, getErr := p.repo.GetEntryBySource(ctx, input.SourceModule, input.SourceTransactionID)
		if getErr != nil {
			return Entry{}, getErr
		}
		winner.Lines = lines
		entry = winner
		duplicate = true
		err = nil
	}
	if err != nil {
		return Entry{}, err
	}
	if duplicate {
		p.logger.Info("duplicate posting suppressed",
			slog.String("source_module", input.SourceModule),
			slog.String("source_transaction_id", input.SourceTransactionID),
			slog.Int64("gl_transaction_id", entry.ID))
		p.metrics.IncDuplicateSuppressed(input.SourceModule)
		return entry, nil
	}
	p.metrics.IncPosting(input.SourceModule)
	if p.audit != nil {
		_ = p.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.CreatedBy,
			Action:   "ledger.post",
			Entity:   "gl_transaction",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"source_module":         input.SourceModule,
				"source_transaction_id": input.SourceTransactionID,
			},
			At: p.now(),
		})
	}
	return entry, nil
}

// PostInTx posts within the caller's open transaction, so the GL leg can
// commit atomically with other writes for the same business transaction.
// The bool result reports whether the entry already existed. When the insert
// loses a concurrent race the transaction is left aborted and
// ErrDuplicateSource returns; the caller must discard the transaction and
// re-read the winner outside it.
func (p *Poster) PostInTx(ctx context.Context, tx TxRepository, input PostingInput) (Entry, bool, error) {
	if err := input.Validate(); err != nil {
		return Entry{}, false, err
	}
	if input.Date.IsZero() {
		input.Date = p.now()
	}
	existing, lines, err := tx.GetEntryBySource(ctx, input.SourceModule, input.SourceTransactionID)
	if err == nil {
		existing.Lines = lines
		return existing, true, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return Entry{}, false, err
	}
	inserted, err := tx.InsertEntry(ctx, input)
	if err != nil {
		return Entry{}, false, err
	}
	if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
		return Entry{}, false, err
	}
	if err := tx.ApplyLineBalances(ctx, input.Lines); err != nil {
		return Entry{}, false, err
	}
	inserted.Lines = toLines(inserted.ID, input.Lines, p.now())
	return inserted, false, nil
}

// Void marks an entry VOIDED and backs out its cached balance deltas. Rows
// are never deleted; the audit trail is permanent.
func (p *Poster) Void(ctx context.Context, input VoidInput) (Entry, error) {
	if input.EntryID == 0 {
		return Entry{}, errors.New("ledger: entry id required")
	}
	var entry Entry
	var lines []Line
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, currLines, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusPosted {
			return ErrInvalidStatus
		}
		if err := tx.UpdateEntryStatus(ctx, current.ID, EntryStatusVoided); err != nil {
			return err
		}
		if err := tx.ApplyLineBalances(ctx, mirrorLines(currLines)); err != nil {
			return err
		}
		entry = current
		entry.Status = EntryStatusVoided
		lines = currLines
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	if p.audit != nil {
		_ = p.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.void",
			Entity:   "gl_transaction",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"reason": input.Reason,
			},
			At: p.now(),
		})
	}
	return entry, nil
}

// GetBySource fetches the posted entry for a business transaction.
func (p *Poster) GetBySource(ctx context.Context, module, sourceID string) (Entry, []Line, error) {
	return p.repo.GetEntryBySource(ctx, module, sourceID)
}

// MirrorLines returns the debit/credit swap of the given lines, the line set
// a correcting entry posts.
func MirrorLines(lines []Line) []LineInput {
	return mirrorLines(lines)
}

func mirrorLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
		})
	}
	return out
}

func toLines(entryID int64, lines []LineInput, ts time.Time) []Line {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, Line{
			EntryID:   entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			CreatedAt: ts,
		})
	}
	return out
}
