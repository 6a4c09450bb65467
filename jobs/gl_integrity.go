package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GLIntegrityJob verifies that every posted journal entry still balances.
// An imbalance here means lines were mutated outside the poster and needs an
// operator, so it is logged loudly rather than corrected.
type GLIntegrityJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewGLIntegrityJob constructs the integrity job.
func NewGLIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *GLIntegrityJob {
	return &GLIntegrityJob{pool: pool, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload GLIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	rows, err := j.pool.Query(ctx, `SELECT t.id, SUM(l.debit), SUM(l.credit)
FROM gl_transactions t
JOIN gl_transaction_lines l ON l.gl_transaction_id = t.id
WHERE t.status = 'POSTED'
GROUP BY t.id
HAVING SUM(l.debit) <> SUM(l.credit)`)
	if err != nil {
		return err
	}
	defer rows.Close()
	unbalanced := 0
	for rows.Next() {
		var id int64
		var debit, credit float64
		if err := rows.Scan(&id, &debit, &credit); err != nil {
			return err
		}
		unbalanced++
		if j.logger != nil {
			j.logger.Error("unbalanced journal entry detected",
				slog.Int64("gl_transaction_id", id),
				slog.Float64("debit", debit),
				slog.Float64("credit", credit))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if j.logger != nil && unbalanced == 0 {
		j.logger.Info("gl integrity check passed", slog.String("trigger", payload.Trigger))
	}
	return nil
}
