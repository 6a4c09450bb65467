package reversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/observability"
	"github.com/sikaledger/sikaledger/internal/shared"
)

// PosterPort is the slice of the ledger poster the workflow needs.
type PosterPort interface {
	GetBySource(ctx context.Context, module, sourceID string) (ledger.Entry, []ledger.Line, error)
	PostForTransaction(ctx context.Context, input ledger.PostingInput) (ledger.Entry, error)
}

// FloatPort is the slice of the float ledger the workflow needs.
type FloatPort interface {
	FindMovementByReference(ctx context.Context, reference string) (float.Movement, error)
	ApplyMovement(ctx context.Context, input float.MovementInput) (float.Movement, error)
}

// CeilingPort answers role authorisation ceilings.
type CeilingPort interface {
	CeilingFor(ctx context.Context, role string) (float64, error)
}

// ApprovalPort appends to the approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records workflow events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const approvalModule = "reversal"

// Service drives the reversal workflow: pending -> approved|rejected,
// approved -> completed.
type Service struct {
	store     Repository
	poster    PosterPort
	floats    FloatPort
	ceilings  CeilingPort
	approvals ApprovalPort
	audit     AuditPort
	metrics   *observability.Metrics
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// NewService constructs the reversal workflow service.
func NewService(store Repository, poster PosterPort, floats FloatPort, ceilings CeilingPort, approvals ApprovalPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		poster:    poster,
		floats:    floats,
		ceilings:  ceilings,
		approvals: approvals,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Request opens a reversal against a posted transaction. When the requester's
// role ceiling covers the original amount the reversal is auto-approved and
// completion is attempted in the same logical operation. A returned reversal
// in APPROVED state with a non-nil error means completion failed and must be
// retried via Complete; retries are exactly-once through the poster's
// idempotency key.
func (s *Service) Request(ctx context.Context, input RequestInput) (Reversal, error) {
	if err := s.validate.Struct(input); err != nil {
		return Reversal{}, err
	}
	entry, lines, err := s.poster.GetBySource(ctx, input.SourceModule, input.SourceTransactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return Reversal{}, ErrOriginalNotFound
		}
		return Reversal{}, err
	}
	if entry.Status != ledger.EntryStatusPosted {
		return Reversal{}, ErrOriginalNotPosted
	}
	entry.Lines = lines
	rev, err := s.store.Insert(ctx, Reversal{
		SourceModule:        input.SourceModule,
		SourceTransactionID: input.SourceTransactionID,
		GLTransactionID:     entry.ID,
		Type:                input.Type,
		Amount:              entry.Amount(),
		Reason:              input.Reason,
		RequestedBy:         input.RequestedBy,
	})
	if err != nil {
		return Reversal{}, err
	}
	s.metrics.IncReversalTransition(string(StatusPending))
	s.recordApproval(ctx, rev.ID, input.RequestedBy, shared.ApprovalSubmit, input.Reason)
	s.recordAudit(ctx, input.RequestedBy, "reversal.request", rev.ID, map[string]any{
		"source_module":         input.SourceModule,
		"source_transaction_id": input.SourceTransactionID,
		"amount":                rev.Amount,
	})

	ceiling, err := s.ceilings.CeilingFor(ctx, input.RequesterRole)
	if err != nil || ceiling < rev.Amount {
		// Stays pending for a higher authority; an unknown role is treated
		// as ceiling zero, never as an approval.
		return rev, nil
	}
	return s.approveAndComplete(ctx, rev, input.RequestedBy)
}

// Approve transitions a pending reversal to approved and attempts
// completion. The approver's role ceiling must cover the original amount.
func (s *Service) Approve(ctx context.Context, reversalID, approverID int64, approverRole string) (Reversal, error) {
	rev, err := s.store.Get(ctx, reversalID)
	if err != nil {
		return Reversal{}, err
	}
	if rev.Status != StatusPending {
		return Reversal{}, ErrInvalidState
	}
	if err := s.checkCeiling(ctx, approverRole, rev.Amount); err != nil {
		return Reversal{}, err
	}
	return s.approveAndComplete(ctx, rev, approverID)
}

// Reject transitions a pending reversal to the terminal rejected state.
func (s *Service) Reject(ctx context.Context, reversalID, approverID int64, approverRole, notes string) (Reversal, error) {
	rev, err := s.store.Get(ctx, reversalID)
	if err != nil {
		return Reversal{}, err
	}
	if rev.Status != StatusPending {
		return Reversal{}, ErrInvalidState
	}
	if err := s.checkCeiling(ctx, approverRole, rev.Amount); err != nil {
		return Reversal{}, err
	}
	if err := s.store.MarkRejected(ctx, reversalID, approverID, notes); err != nil {
		return Reversal{}, err
	}
	s.metrics.IncReversalTransition(string(StatusRejected))
	s.recordApproval(ctx, reversalID, approverID, shared.ApprovalReject, notes)
	s.recordAudit(ctx, approverID, "reversal.reject", reversalID, map[string]any{"notes": notes})
	return s.store.Get(ctx, reversalID)
}

// Complete posts the mirror-image journal entry and restores the float
// balance, then marks the reversal completed. Safe to retry: the GL leg is
// idempotent on its source key and the float leg is guarded by its
// reference.
func (s *Service) Complete(ctx context.Context, reversalID int64) (Reversal, error) {
	rev, err := s.store.Get(ctx, reversalID)
	if err != nil {
		return Reversal{}, err
	}
	switch rev.Status {
	case StatusCompleted:
		return rev, nil
	case StatusApproved:
	default:
		return Reversal{}, ErrInvalidState
	}
	return s.complete(ctx, rev)
}

func (s *Service) approveAndComplete(ctx context.Context, rev Reversal, approverID int64) (Reversal, error) {
	if err := s.store.MarkApproved(ctx, rev.ID, approverID); err != nil {
		return Reversal{}, err
	}
	s.metrics.IncReversalTransition(string(StatusApproved))
	s.recordApproval(ctx, rev.ID, approverID, shared.ApprovalApprove, "")
	rev.Status = StatusApproved
	rev.ApprovedBy = &approverID
	completed, err := s.complete(ctx, rev)
	if err != nil {
		s.logger.Error("reversal approved but completion failed; retry via Complete",
			slog.Int64("reversal_id", rev.ID),
			slog.Any("error", err))
		return rev, fmt.Errorf("reversal: completion failed: %w", err)
	}
	return completed, nil
}

func (s *Service) complete(ctx context.Context, rev Reversal) (Reversal, error) {
	entry, lines, err := s.poster.GetBySource(ctx, rev.SourceModule, rev.SourceTransactionID)
	if err != nil {
		return Reversal{}, err
	}
	actor := rev.RequestedBy
	if rev.ApprovedBy != nil {
		actor = *rev.ApprovedBy
	}
	reference := fmt.Sprintf("RV-%d", rev.ID)
	posted, err := s.poster.PostForTransaction(ctx, ledger.PostingInput{
		Date:                  s.now(),
		SourceModule:          rev.SourceModule + ":REVERSAL",
		SourceTransactionID:   reference,
		SourceTransactionType: "reversal",
		Description:           fmt.Sprintf("%s of %s %s", typeLabel(rev.Type), rev.SourceModule, rev.SourceTransactionID),
		CreatedBy:             actor,
		Lines:                 ledger.MirrorLines(lines),
	})
	if err != nil {
		return Reversal{}, err
	}
	if err := s.restoreFloat(ctx, rev, reference, actor); err != nil {
		return Reversal{}, err
	}
	if err := s.store.MarkCompleted(ctx, rev.ID, posted.ID); err != nil {
		if errors.Is(err, ErrInvalidState) {
			// A concurrent completer won; adopt its result.
			current, getErr := s.store.Get(ctx, rev.ID)
			if getErr == nil && current.Status == StatusCompleted {
				return current, nil
			}
		}
		return Reversal{}, err
	}
	s.metrics.IncReversalTransition(string(StatusCompleted))
	s.recordApproval(ctx, rev.ID, actor, shared.ApprovalComplete, "")
	s.recordAudit(ctx, actor, "reversal.complete", rev.ID, map[string]any{
		"reversal_gl_transaction_id": posted.ID,
		"original_gl_transaction_id": entry.ID,
	})
	return s.store.Get(ctx, rev.ID)
}

// restoreFloat applies the inverse movement on the float account touched by
// the original transaction. No-op when the original had no float leg or the
// restore already happened on a previous attempt.
func (s *Service) restoreFloat(ctx context.Context, rev Reversal, reference string, actor int64) error {
	if _, err := s.floats.FindMovementByReference(ctx, reference); err == nil {
		return nil
	} else if !errors.Is(err, float.ErrMovementNotFound) {
		return err
	}
	original, err := s.floats.FindMovementByReference(ctx, rev.SourceTransactionID)
	if err != nil {
		if errors.Is(err, float.ErrMovementNotFound) {
			return nil
		}
		return err
	}
	_, err = s.floats.ApplyMovement(ctx, float.MovementInput{
		FloatAccountID: original.FloatAccountID,
		Amount:         -original.Amount,
		Type:           float.MovementAdjustment,
		Reference:      reference,
		CreatedBy:      actor,
		AllowOverdraft: true,
	})
	return err
}

// ListStalePending surfaces pending reversals older than the given age.
// There is no expiry: acting on them is an operator decision.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration) ([]Reversal, error) {
	return s.store.ListStalePending(ctx, olderThan)
}

func typeLabel(t Type) string {
	if t == TypeVoid {
		return "Void"
	}
	return "Reversal"
}

func (s *Service) checkCeiling(ctx context.Context, role string, amount float64) error {
	ceiling, err := s.ceilings.CeilingFor(ctx, role)
	if err != nil {
		return err
	}
	if ceiling < amount {
		return ErrCeilingExceeded
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, revID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   revID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, revID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transaction_reversal",
		EntityID: fmt.Sprintf("%d", revID),
		Meta:     meta,
		At:       s.now(),
	})
}
