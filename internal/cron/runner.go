package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

// AddJob schedules a job whose error is logged under name.
func (r *Runner) AddJob(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	return r.Add(spec, func(ctx context.Context) {
		started := time.Now()
		err := job(ctx)
		if r.logger == nil {
			return
		}
		if err != nil {
			r.logger.Warn("cron job failed", zap.String("job", name), zap.Duration("took", time.Since(started)), zap.Error(err))
			return
		}
		r.logger.Debug("cron job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
	})
}

// Next returns the next activation of the entry, or nil when the runner
// has not scheduled it yet.
func (r *Runner) Next(id cron.EntryID) *time.Time {
	if r == nil {
		return nil
	}
	next := r.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	next = next.UTC()
	return &next
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started", zap.Int("entries", len(r.cron.Entries())))
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}
