package float

import (
	"context"
	"log/slog"
	"time"

	"github.com/sikaledger/sikaledger/internal/observability"
)

// BreachDirection marks which threshold was crossed.
type BreachDirection string

const (
	BreachLow  BreachDirection = "LOW"
	BreachHigh BreachDirection = "HIGH"
)

// Breach is the domain event emitted when a float balance crosses a
// configured threshold.
type Breach struct {
	FloatAccountID int64
	BranchID       int64
	Provider       string
	AccountNumber  string
	Direction      BreachDirection
	Balance        float64
	Threshold      float64
	At             time.Time
}

// AlertSink receives breach events. Implementations must be cheap; dispatch
// happens on the movement path and failures are swallowed.
type AlertSink interface {
	Dispatch(ctx context.Context, breach Breach) error
}

// Monitor evaluates float balances against their thresholds after each
// movement.
type Monitor struct {
	sink    AlertSink
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewMonitor constructs the threshold monitor.
func NewMonitor(sink AlertSink, metrics *observability.Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{sink: sink, metrics: metrics, logger: logger, now: time.Now}
}

// Evaluate compares the account balance against its thresholds and emits a
// breach event when one is crossed. Sink failures are logged, never returned:
// threshold alerting must not roll back or fail a posting.
func (m *Monitor) Evaluate(ctx context.Context, account Account) {
	breach, ok := m.check(account)
	if !ok {
		return
	}
	m.metrics.IncThresholdBreach(string(breach.Direction))
	if m.sink == nil {
		return
	}
	if err := m.sink.Dispatch(ctx, breach); err != nil {
		m.logger.Warn("threshold alert dispatch failed",
			slog.Int64("float_account_id", account.ID),
			slog.String("direction", string(breach.Direction)),
			slog.Any("error", err))
	}
}

func (m *Monitor) check(account Account) (Breach, bool) {
	breach := Breach{
		FloatAccountID: account.ID,
		BranchID:       account.BranchID,
		Provider:       account.Provider,
		AccountNumber:  account.AccountNumber,
		Balance:        account.Balance,
		At:             m.now(),
	}
	if account.Balance < account.MinThreshold {
		breach.Direction = BreachLow
		breach.Threshold = account.MinThreshold
		return breach, true
	}
	if account.MaxThreshold > 0 && account.Balance > account.MaxThreshold {
		breach.Direction = BreachHigh
		breach.Threshold = account.MaxThreshold
		return breach, true
	}
	return Breach{}, false
}
