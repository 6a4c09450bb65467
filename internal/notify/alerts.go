package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/jobs"
)

// Enqueuer is the slice of the jobs client the dispatcher needs.
type Enqueuer interface {
	EnqueueThresholdAlert(ctx context.Context, payload jobs.ThresholdAlertPayload) (*asynq.TaskInfo, error)
}

// Dispatcher hands threshold breaches to the job queue. Repeated breaches for
// the same account and direction are suppressed within a redis TTL window so
// a flapping balance does not flood the notifier.
type Dispatcher struct {
	queue   Enqueuer
	redis   redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	printer *message.Printer
}

// NewDispatcher constructs the alert dispatcher. redis may be nil, in which
// case no suppression applies.
func NewDispatcher(queue Enqueuer, redisClient redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   queue,
		redis:   redisClient,
		ttl:     ttl,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// Dispatch implements float.AlertSink.
func (d *Dispatcher) Dispatch(ctx context.Context, breach float.Breach) error {
	if d.redis != nil && d.ttl > 0 {
		key := suppressionKey(breach)
		ok, err := d.redis.SetNX(ctx, key, 1, d.ttl).Result()
		if err != nil {
			// Suppression is best effort; a redis outage must not mute alerts.
			d.logger.Warn("alert suppression check failed", slog.String("key", key), slog.Any("error", err))
		} else if !ok {
			d.logger.Info("threshold alert suppressed",
				slog.Int64("float_account_id", breach.FloatAccountID),
				slog.String("direction", string(breach.Direction)))
			return nil
		}
	}
	_, err := d.queue.EnqueueThresholdAlert(ctx, jobs.ThresholdAlertPayload{
		FloatAccountID: breach.FloatAccountID,
		BranchID:       breach.BranchID,
		Provider:       breach.Provider,
		AccountNumber:  breach.AccountNumber,
		Direction:      string(breach.Direction),
		Balance:        breach.Balance,
		Threshold:      breach.Threshold,
		At:             breach.At,
		Message:        d.formatMessage(breach),
	})
	return err
}

func (d *Dispatcher) formatMessage(breach float.Breach) string {
	verb := "fell below minimum"
	if breach.Direction == float.BreachHigh {
		verb = "exceeded maximum"
	}
	return d.printer.Sprintf("Float account %s %s (branch %d) balance GHS %.2f %s threshold GHS %.2f",
		breach.Provider, breach.AccountNumber, breach.BranchID, breach.Balance, verb, breach.Threshold)
}

func suppressionKey(breach float.Breach) string {
	return fmt.Sprintf("alerts:float:%d:%s", breach.FloatAccountID, breach.Direction)
}

// HandleThresholdAlert processes TaskThresholdAlert tasks. Delivery (SMS,
// email) belongs to the external notification collaborator; the queue is the
// hand-off boundary and the worker records the hand-off.
func HandleThresholdAlert(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload jobs.ThresholdAlertPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if logger != nil {
			logger.Info("threshold alert ready for delivery",
				slog.Int64("float_account_id", payload.FloatAccountID),
				slog.String("direction", payload.Direction),
				slog.String("message", payload.Message))
		}
		return nil
	}
}
