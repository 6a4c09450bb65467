package reversal

import (
	"errors"
	"time"
)

// Status enumerates the reversal workflow states. REJECTED and COMPLETED are
// terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

// Type distinguishes a void ("never should have happened") from a reverse
// ("correcting entry"). Both execute the same mirrored-posting mechanics;
// the distinction is reporting only.
type Type string

const (
	TypeVoid    Type = "VOID"
	TypeReverse Type = "REVERSE"
)

// Reversal is one reversal/void request against a posted transaction.
type Reversal struct {
	ID                  int64
	SourceModule        string
	SourceTransactionID string
	GLTransactionID     int64
	Type                Type
	Amount              float64
	Reason              string
	Status              Status
	RequestedBy         int64
	RequestedAt         time.Time
	ApprovedBy          *int64
	ApprovedAt          *time.Time
	Notes               string
	ReversalGLID        *int64
	CompletedAt         *time.Time
	UpdatedAt           time.Time
}

// RequestInput groups fields required to open a reversal.
type RequestInput struct {
	SourceModule        string `validate:"required"`
	SourceTransactionID string `validate:"required"`
	Type                Type   `validate:"required,oneof=VOID REVERSE"`
	Reason              string `validate:"required"`
	RequestedBy         int64  `validate:"required"`
	RequesterRole       string `validate:"required"`
}

var (
	// ErrNotFound indicates the reversal does not exist.
	ErrNotFound = errors.New("reversal: not found")
	// ErrOriginalNotFound indicates no posted entry matches the source.
	ErrOriginalNotFound = errors.New("reversal: original transaction not found")
	// ErrOriginalNotPosted indicates the original entry is not in POSTED state.
	ErrOriginalNotPosted = errors.New("reversal: original transaction not posted")
	// ErrAlreadyReversed indicates an open or completed reversal exists.
	ErrAlreadyReversed = errors.New("reversal: transaction already reversed")
	// ErrInvalidState indicates the transition is not allowed from the
	// current status.
	ErrInvalidState = errors.New("reversal: invalid state transition")
	// ErrCeilingExceeded indicates the actor's role ceiling does not cover
	// the original amount.
	ErrCeilingExceeded = errors.New("reversal: amount exceeds role authorisation ceiling")
)
