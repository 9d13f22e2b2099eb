package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/luisterslim/billing/internal/clock"
	obsmetrics "github.com/luisterslim/billing/internal/observability/metrics"
	usagedomain "github.com/luisterslim/billing/internal/usage/domain"
	webhookdomain "github.com/luisterslim/billing/internal/webhook/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxLoggedFindings caps per-item log lines of one reconciliation pass.
const maxLoggedFindings = 20

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Usage    usagedomain.Service
	Webhooks webhookdomain.Service
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                       `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	usage    usagedomain.Service
	webhooks webhookdomain.Service
	metrics  *obsmetrics.SchedulerMetrics
	cron     *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Usage == nil || p.Webhooks == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		usage:    p.Usage,
		webhooks: p.Webhooks,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	if s.isJobEnabled(obsmetrics.JobReconcileUsage) {
		err = errors.Join(err, s.runJob(ctx, obsmetrics.JobReconcileUsage, s.ReconcileUsageJob))
	}
	if s.isJobEnabled(obsmetrics.JobRetryWebhooks) {
		err = errors.Join(err, s.runJob(ctx, obsmetrics.JobRetryWebhooks, s.RetryWebhooksJob))
	}
	return err
}

// Start registers the jobs on a cron runner. Overlapping runs of one job are skipped.
func (s *Scheduler) Start() error {
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{obsmetrics.JobReconcileUsage, s.cfg.ReconcileSpec, s.ReconcileUsageJob},
		{obsmetrics.JobRetryWebhooks, s.cfg.WebhookRetrySpec, s.RetryWebhooksJob},
	}
	for _, job := range jobs {
		if !s.isJobEnabled(job.name) {
			continue
		}
		job := job
		if _, err := c.AddFunc(job.spec, func() {
			if err := s.runJob(context.Background(), job.name, job.run); err != nil {
				s.log.Warn("scheduled job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}

	s.cron = c
	c.Start()
	s.log.Info("scheduler started",
		zap.String("reconcile_spec", s.cfg.ReconcileSpec),
		zap.String("webhook_retry_spec", s.cfg.WebhookRetrySpec),
	)
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileUsageJob publishes the reconciliation report as gauges and logs
// each finding. Findings are reported, never repaired.
func (s *Scheduler) ReconcileUsageJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, obsmetrics.JobReconcileUsage)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.usage.ReconciliationReport(ctx, "")
	if err != nil {
		s.logSchedulerError(ctx, run, "reconciliation report failed", err)
		return err
	}

	s.metrics.SetReconciliation(len(report.UnbilledArtifacts), report.UnbilledArtifactMs, len(report.Drift), report.GeneratedAt)
	run.AddProcessed(len(report.UnbilledArtifacts) + len(report.Drift))
	s.metrics.AddBatchProcessed(obsmetrics.JobReconcileUsage, "unbilled_artifact", len(report.UnbilledArtifacts))
	s.metrics.AddBatchProcessed(obsmetrics.JobReconcileUsage, "drift_period", len(report.Drift))

	log := s.logger(ctx)
	for i, r := range report.UnbilledArtifacts {
		if i == maxLoggedFindings {
			break
		}
		log.Warn("transcript artifact not billed",
			zap.String("account_id", r.AccountID),
			zap.String("period_id", r.PeriodID),
			zap.String("transcript_artifact_id", r.TranscriptArtifactID),
			zap.Int64("delta_ms", r.DeltaMs),
		)
	}
	for i, d := range report.Drift {
		if i == maxLoggedFindings {
			break
		}
		log.Error("usage counter drift",
			zap.String("account_id", d.AccountID),
			zap.String("period_id", d.PeriodID),
			zap.Int64("used_ms", d.UsedMs),
			zap.Int64("event_sum_ms", d.EventSumMs),
		)
	}
	return nil
}

// RetryWebhooksJob re-applies recorded webhook events that failed earlier.
func (s *Scheduler) RetryWebhooksJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, obsmetrics.JobRetryWebhooks)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.webhooks.RetryPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "webhook retry failed", err)
		return err
	}
	run.AddProcessed(report.Succeeded)
	s.metrics.AddBatchProcessed(obsmetrics.JobRetryWebhooks, "webhook_event", report.Succeeded)
	if report.Failed > 0 {
		for i := 0; i < report.Failed; i++ {
			run.IncError()
		}
		s.logger(ctx).Warn("webhook events still failing",
			zap.Int("attempted", report.Attempted),
			zap.Int("failed", report.Failed),
		)
	}
	return nil
}
