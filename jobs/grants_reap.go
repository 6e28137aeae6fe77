package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/authcore-io/authcore/internal/jobs"
)

// GrantPurger is the store operation the reaper drives.
type GrantPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// GrantsReapJob removes grant rows whose expiry has passed.
type GrantsReapJob struct {
	grants  GrantPurger
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewGrantsReapJob constructs the reaper job. metrics may be nil.
func NewGrantsReapJob(grants GrantPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantsReapJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantsReapJob{grants: grants, logger: logger, metrics: metrics}
}

// Handle processes TaskGrantsReap tasks.
func (j *GrantsReapJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("grants_reap")
	n, err := j.grants.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("grants reap", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddReaped(n)
	j.logger.Info("grants reap complete", slog.Int64("rows", n))
	return tracker.End(nil)
}
