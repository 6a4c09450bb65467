package recon

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sikaledger/sikaledger/internal/observability"
)

// varianceTolerance absorbs numeric noise below the currency precision.
const varianceTolerance = 0.005

// Engine compares float-ledger balances against GL balances. Read-only: a
// nonzero variance is reported, never corrected.
type Engine struct {
	repo    Repository
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs the reconciliation engine.
func NewEngine(repo Repository, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Reconcile produces a variance row for every GL account that has at least
// one float mapping. Float sums are fetched concurrently per account.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	accounts, err := e.repo.ListMappedAccounts(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{AsOf: e.now(), Rows: make([]Row, len(accounts))}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	var mu sync.Mutex
	for i, account := range accounts {
		g.Go(func() error {
			floatTotal, err := e.repo.SumFloatBalances(ctx, account.FloatAccountIDs)
			if err != nil {
				return err
			}
			row := Row{
				GLAccountID:   account.AccountID,
				GLAccountCode: account.Code,
				GLBalance:     account.Balance,
				FloatBalance:  floatTotal,
				Variance:      round2(account.Balance - floatTotal),
			}
			mu.Lock()
			report.Rows[i] = row
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	for _, row := range report.Rows {
		if math.Abs(row.Variance) > varianceTolerance {
			e.metrics.IncReconVariance()
			e.logger.Warn("reconciliation variance",
				slog.String("gl_account_code", row.GLAccountCode),
				slog.Float64("gl_balance", row.GLBalance),
				slog.Float64("float_balance", row.FloatBalance),
				slog.Float64("variance", row.Variance))
		}
	}
	return report, nil
}

// Snapshot runs a reconciliation and persists the result for audit.
func (e *Engine) Snapshot(ctx context.Context) (Report, error) {
	report, err := e.Reconcile(ctx)
	if err != nil {
		return Report{}, err
	}
	snapshotID, err := e.repo.SaveSnapshot(ctx, report.AsOf, report.Rows)
	if err != nil {
		return Report{}, err
	}
	report.SnapshotID = snapshotID
	return report, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
