package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sikaledger/sikaledger/internal/app"
	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/notify"
	"github.com/sikaledger/sikaledger/internal/observability"
	"github.com/sikaledger/sikaledger/internal/platform/cache"
	"github.com/sikaledger/sikaledger/internal/platform/db"
	"github.com/sikaledger/sikaledger/internal/posting"
	"github.com/sikaledger/sikaledger/internal/rbac"
	"github.com/sikaledger/sikaledger/internal/recon"
	"github.com/sikaledger/sikaledger/internal/reversal"
	"github.com/sikaledger/sikaledger/internal/shared"
	"github.com/sikaledger/sikaledger/jobs"
)

// Kernel wires the full service graph for command-line operation. Source
// modules embedding the library wire the same graph themselves.
type Kernel struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	queue *jobs.Client

	Poster    *ledger.Poster
	Resolver  *ledger.Resolver
	Floats    *float.Ledger
	Posting   *posting.Service
	Reversals *reversal.Service
	Recon     *recon.Engine
	Limits    *rbac.Service
}

// NewKernel connects to postgres and redis and builds the services.
func NewKernel(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*Kernel, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)

	ledgerRepo := ledger.NewRepository(pool)
	poster := ledger.NewPoster(ledgerRepo, auditLogger, metrics, logger)
	resolver := ledger.NewResolver(ledgerRepo, metrics, logger)

	dispatcher := notify.NewDispatcher(queue, redisClient, cfg.AlertSuppressTTL, logger)
	monitor := float.NewMonitor(dispatcher, metrics, logger)
	floats := float.NewLedger(float.NewRepository(pool), monitor)

	postings := posting.NewService(posting.NewRepository(pool), poster, floats, auditLogger, metrics, logger)

	limits := rbac.NewService(rbac.NewRepository(pool))
	reversals := reversal.NewService(reversal.NewRepository(pool), poster, floats, limits, approvals, auditLogger, metrics, logger)

	reconEngine := recon.NewEngine(recon.NewRepository(pool), metrics, logger)

	return &Kernel{
		pool:      pool,
		redis:     redisClient,
		queue:     queue,
		Poster:    poster,
		Resolver:  resolver,
		Floats:    floats,
		Posting:   postings,
		Reversals: reversals,
		Recon:     reconEngine,
		Limits:    limits,
	}, nil
}

// Migrate applies the embedded schema.
func (k *Kernel) Migrate(ctx context.Context) error {
	return db.EnsureSchema(ctx, k.pool)
}

// StalePending lists pending reversals older than the given age.
func (k *Kernel) StalePending(ctx context.Context, olderThan time.Duration) ([]reversal.Reversal, error) {
	return k.Reversals.ListStalePending(ctx, olderThan)
}

// Close releases connections.
func (k *Kernel) Close() {
	if k == nil {
		return
	}
	if k.queue != nil {
		_ = k.queue.Close()
	}
	if k.redis != nil {
		_ = k.redis.Close()
	}
	if k.pool != nil {
		k.pool.Close()
	}
}
