package reversal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/shared"
)

type memStore struct {
	revs   map[int64]*Reversal
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{revs: make(map[int64]*Reversal)}
}

func (s *memStore) Insert(_ context.Context, rev Reversal) (Reversal, error) {
	for _, existing := range s.revs {
		if existing.SourceModule == rev.SourceModule &&
			existing.SourceTransactionID == rev.SourceTransactionID &&
			existing.Status != StatusRejected {
			return Reversal{}, ErrAlreadyReversed
		}
	}
	s.nextID++
	rev.ID = s.nextID
	rev.Status = StatusPending
	rev.RequestedAt = time.Now()
	stored := rev
	s.revs[rev.ID] = &stored
	return rev, nil
}

func (s *memStore) Get(_ context.Context, id int64) (Reversal, error) {
	rev, ok := s.revs[id]
	if !ok {
		return Reversal{}, ErrNotFound
	}
	return *rev, nil
}

func (s *memStore) transition(id int64, from, to Status, mutate func(*Reversal)) error {
	rev, ok := s.revs[id]
	if !ok {
		return ErrNotFound
	}
	if rev.Status != from {
		return ErrInvalidState
	}
	rev.Status = to
	mutate(rev)
	return nil
}

func (s *memStore) MarkApproved(_ context.Context, id, approverID int64) error {
	return s.transition(id, StatusPending, StatusApproved, func(rev *Reversal) {
		rev.ApprovedBy = &approverID
		now := time.Now()
		rev.ApprovedAt = &now
	})
}

func (s *memStore) MarkRejected(_ context.Context, id, approverID int64, notes string) error {
	return s.transition(id, StatusPending, StatusRejected, func(rev *Reversal) {
		rev.ApprovedBy = &approverID
		rev.Notes = notes
	})
}

func (s *memStore) MarkCompleted(_ context.Context, id, reversalGLID int64) error {
	return s.transition(id, StatusApproved, StatusCompleted, func(rev *Reversal) {
		rev.ReversalGLID = &reversalGLID
		now := time.Now()
		rev.CompletedAt = &now
	})
}

func (s *memStore) ListStalePending(_ context.Context, olderThan time.Duration) ([]Reversal, error) {
	cutoff := time.Now().Add(-olderThan)
	var out []Reversal
	for _, rev := range s.revs {
		if rev.Status == StatusPending && rev.RequestedAt.Before(cutoff) {
			out = append(out, *rev)
		}
	}
	return out, nil
}

type stubPoster struct {
	entries map[string]ledger.Entry
	nextID  int64
	posted  []ledger.PostingInput
	fail    bool
}

func newStubPoster() *stubPoster {
	return &stubPoster{entries: make(map[string]ledger.Entry), nextID: 500}
}

func (p *stubPoster) seed(module, sourceID string, status ledger.EntryStatus, lines []ledger.Line) ledger.Entry {
	p.nextID++
	entry := ledger.Entry{
		ID:                  p.nextID,
		SourceModule:        module,
		SourceTransactionID: sourceID,
		Status:              status,
		Lines:               lines,
	}
	p.entries[module+"|"+sourceID] = entry
	return entry
}

func (p *stubPoster) GetBySource(_ context.Context, module, sourceID string) (ledger.Entry, []ledger.Line, error) {
	entry, ok := p.entries[module+"|"+sourceID]
	if !ok {
		return ledger.Entry{}, nil, ledger.ErrEntryNotFound
	}
	return entry, entry.Lines, nil
}

func (p *stubPoster) PostForTransaction(_ context.Context, input ledger.PostingInput) (ledger.Entry, error) {
	if p.fail {
		return ledger.Entry{}, errors.New("poster: database down")
	}
	key := input.SourceModule + "|" + input.SourceTransactionID
	if entry, ok := p.entries[key]; ok {
		return entry, nil
	}
	p.nextID++
	lines := make([]ledger.Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		lines = append(lines, ledger.Line{EntryID: p.nextID, AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit})
	}
	entry := ledger.Entry{
		ID:                  p.nextID,
		SourceModule:        input.SourceModule,
		SourceTransactionID: input.SourceTransactionID,
		Status:              ledger.EntryStatusPosted,
		Lines:               lines,
	}
	p.entries[key] = entry
	p.posted = append(p.posted, input)
	return entry, nil
}

type stubFloats struct {
	movements map[string]float.Movement
	applied   []float.MovementInput
}

func newStubFloats() *stubFloats {
	return &stubFloats{movements: make(map[string]float.Movement)}
}

func (f *stubFloats) FindMovementByReference(_ context.Context, reference string) (float.Movement, error) {
	m, ok := f.movements[reference]
	if !ok {
		return float.Movement{}, float.ErrMovementNotFound
	}
	return m, nil
}

func (f *stubFloats) ApplyMovement(_ context.Context, input float.MovementInput) (float.Movement, error) {
	f.applied = append(f.applied, input)
	m := float.Movement{
		ID:             int64(len(f.applied)),
		FloatAccountID: input.FloatAccountID,
		Type:           input.Type,
		Amount:         input.Amount,
		Reference:      input.Reference,
		CreatedBy:      input.CreatedBy,
	}
	f.movements[input.Reference] = m
	return m, nil
}

type stubCeilings struct {
	limits map[string]float64
}

func (c *stubCeilings) CeilingFor(_ context.Context, role string) (float64, error) {
	limit, ok := c.limits[role]
	if !ok {
		return 0, errors.New("rbac: role not configured")
	}
	return limit, nil
}

type captureApprovals struct {
	logs []shared.ApprovalLog
}

func (c *captureApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	c.logs = append(c.logs, log)
	return nil
}

type fixture struct {
	store     *memStore
	poster    *stubPoster
	floats    *stubFloats
	approvals *captureApprovals
	service   *Service
}

func newFixture(limits map[string]float64) *fixture {
	f := &fixture{
		store:     newMemStore(),
		poster:    newStubPoster(),
		floats:    newStubFloats(),
		approvals: &captureApprovals{},
	}
	f.service = NewService(f.store, f.poster, f.floats, &stubCeilings{limits: limits}, f.approvals, nil, nil, nil)
	return f
}

// seedOriginal posts a 1000.00 momo transaction with a matching float
// movement so reversals have something to undo.
func (f *fixture) seedOriginal() ledger.Entry {
	entry := f.poster.seed("momo", "TX-1", ledger.EntryStatusPosted, []ledger.Line{
		{AccountID: 1, Debit: 1000},
		{AccountID: 2, Credit: 1000},
	})
	f.floats.movements["TX-1"] = float.Movement{
		ID: 1, FloatAccountID: 5, Type: float.MovementCredit, Amount: 1000, Reference: "TX-1",
	}
	return entry
}

func requestInput() RequestInput {
	return RequestInput{
		SourceModule:        "momo",
		SourceTransactionID: "TX-1",
		Type:                TypeReverse,
		Reason:              "customer dispute",
		RequestedBy:         7,
		RequesterRole:       "CASHIER",
	}
}

func TestRequestAutoApprovesWithinCeiling(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	f.seedOriginal()

	rev, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rev.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", rev.Status)
	}
	if rev.Amount != 1000 {
		t.Fatalf("amount = %v, want 1000", rev.Amount)
	}
	if rev.ReversalGLID == nil {
		t.Fatal("reversal GL transaction id not recorded")
	}

	if len(f.poster.posted) != 1 {
		t.Fatalf("posted %d entries, want 1", len(f.poster.posted))
	}
	posted := f.poster.posted[0]
	if posted.SourceModule != "momo:REVERSAL" {
		t.Fatalf("source module = %s, want momo:REVERSAL", posted.SourceModule)
	}
	wantRef := fmt.Sprintf("RV-%d", rev.ID)
	if posted.SourceTransactionID != wantRef {
		t.Fatalf("idempotency key = %s, want %s", posted.SourceTransactionID, wantRef)
	}
	// Mirrored lines: the original debit becomes a credit and vice versa.
	if posted.Lines[0].Credit != 1000 || posted.Lines[1].Debit != 1000 {
		t.Fatalf("lines not mirrored: %+v", posted.Lines)
	}

	if len(f.floats.applied) != 1 {
		t.Fatalf("applied %d float movements, want 1", len(f.floats.applied))
	}
	restore := f.floats.applied[0]
	if restore.Amount != -1000 || restore.Type != float.MovementAdjustment || !restore.AllowOverdraft {
		t.Fatalf("restore movement = %+v", restore)
	}
	if restore.Reference != wantRef {
		t.Fatalf("restore reference = %s, want %s", restore.Reference, wantRef)
	}
}

func TestRequestStaysPendingAboveCeiling(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500})
	f.seedOriginal()

	rev, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rev.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", rev.Status)
	}
	if len(f.poster.posted) != 0 {
		t.Fatal("reversal entry posted without approval")
	}
}

func TestRequestUnknownRoleStaysPending(t *testing.T) {
	f := newFixture(map[string]float64{})
	f.seedOriginal()

	rev, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rev.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING for unknown role", rev.Status)
	}
}

func TestRequestOriginalMissingOrUnposted(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})

	if _, err := f.service.Request(context.Background(), requestInput()); !errors.Is(err, ErrOriginalNotFound) {
		t.Fatalf("expected ErrOriginalNotFound, got %v", err)
	}

	f.poster.seed("momo", "TX-1", ledger.EntryStatusVoided, []ledger.Line{
		{AccountID: 1, Debit: 1000},
		{AccountID: 2, Credit: 1000},
	})
	if _, err := f.service.Request(context.Background(), requestInput()); !errors.Is(err, ErrOriginalNotPosted) {
		t.Fatalf("expected ErrOriginalNotPosted, got %v", err)
	}
}

func TestRequestAlreadyReversed(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500})
	f.seedOriginal()

	if _, err := f.service.Request(context.Background(), requestInput()); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := f.service.Request(context.Background(), requestInput()); !errors.Is(err, ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
}

func TestApproveCompletesReversal(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500, "MANAGER": 50000})
	f.seedOriginal()

	pending, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rev, err := f.service.Approve(context.Background(), pending.ID, 42, "MANAGER")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rev.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", rev.Status)
	}
	if rev.ApprovedBy == nil || *rev.ApprovedBy != 42 {
		t.Fatalf("approved by = %v, want 42", rev.ApprovedBy)
	}
}

func TestApproveCeilingExceeded(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500, "SUPERVISOR": 800})
	f.seedOriginal()

	pending, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.service.Approve(context.Background(), pending.ID, 42, "SUPERVISOR"); !errors.Is(err, ErrCeilingExceeded) {
		t.Fatalf("expected ErrCeilingExceeded, got %v", err)
	}
	current, _ := f.store.Get(context.Background(), pending.ID)
	if current.Status != StatusPending {
		t.Fatalf("status after failed approve = %s, want PENDING", current.Status)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500, "MANAGER": 50000})
	f.seedOriginal()

	pending, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := f.service.Reject(context.Background(), pending.ID, 42, "MANAGER", "not justified")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("status = %s, want REJECTED", rejected.Status)
	}
	if _, err := f.service.Approve(context.Background(), pending.ID, 42, "MANAGER"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after reject, got %v", err)
	}
	if len(f.poster.posted) != 0 {
		t.Fatal("rejected reversal posted an entry")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	f.seedOriginal()

	rev, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	again, err := f.service.Complete(context.Background(), rev.ID)
	if err != nil {
		t.Fatalf("complete on completed: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", again.Status)
	}
	if len(f.poster.posted) != 1 {
		t.Fatalf("posted %d entries after repeat completion, want 1", len(f.poster.posted))
	}
	if len(f.floats.applied) != 1 {
		t.Fatalf("applied %d float movements after repeat completion, want 1", len(f.floats.applied))
	}
}

func TestCompletionFailureLeavesApprovedForRetry(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	f.seedOriginal()
	f.poster.fail = true

	rev, err := f.service.Request(context.Background(), requestInput())
	if err == nil {
		t.Fatal("expected completion failure to surface")
	}
	if rev.Status != StatusApproved {
		t.Fatalf("status = %s, want APPROVED awaiting retry", rev.Status)
	}

	f.poster.fail = false
	completed, err := f.service.Complete(context.Background(), rev.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("status after retry = %s, want COMPLETED", completed.Status)
	}
	if len(f.poster.posted) != 1 {
		t.Fatalf("posted %d entries, want 1", len(f.poster.posted))
	}
	if len(f.floats.applied) != 1 {
		t.Fatalf("applied %d float movements, want 1", len(f.floats.applied))
	}
}

func TestCompleteRejectsPending(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 500})
	f.seedOriginal()

	pending, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.service.Complete(context.Background(), pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCompleteWithoutFloatLeg(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	// GL entry only, no float movement under the source reference.
	f.poster.seed("momo", "TX-1", ledger.EntryStatusPosted, []ledger.Line{
		{AccountID: 1, Debit: 1000},
		{AccountID: 2, Credit: 1000},
	})

	rev, err := f.service.Request(context.Background(), requestInput())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rev.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", rev.Status)
	}
	if len(f.floats.applied) != 0 {
		t.Fatalf("float movements applied without a float leg: %+v", f.floats.applied)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	in := requestInput()
	in.Reason = ""
	if _, err := f.service.Request(context.Background(), in); err == nil {
		t.Fatal("missing reason accepted")
	}
	in = requestInput()
	in.Type = "UNDO"
	if _, err := f.service.Request(context.Background(), in); err == nil {
		t.Fatal("unknown reversal type accepted")
	}
}

func TestApprovalHistoryRecorded(t *testing.T) {
	f := newFixture(map[string]float64{"CASHIER": 2000})
	f.seedOriginal()

	if _, err := f.service.Request(context.Background(), requestInput()); err != nil {
		t.Fatalf("request: %v", err)
	}
	var actions []shared.ApprovalAction
	for _, log := range f.approvals.logs {
		actions = append(actions, log.Action)
	}
	want := []shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove, shared.ApprovalComplete}
	if len(actions) != len(want) {
		t.Fatalf("approval actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("approval actions = %v, want %v", actions, want)
		}
	}
}
