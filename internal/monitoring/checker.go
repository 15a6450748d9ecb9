package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/autoprice/internal/config"
)

// Job is a pass run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Checker runs the alert check and the scheduled passes in the background.
// Each job ticks independently; a pass always runs to completion before its
// next tick is taken.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	jobs      []Job
}

// NewChecker creates a background scheduler. The alert check is always
// scheduled; jobs are added alongside it.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, jobs ...Job) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		jobs:      jobs,
	}
}

// Run starts every loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	jobs := append([]Job{{
		Name:     "alerts",
		Interval: interval,
		Run: func(ctx context.Context) error {
			c.check(ctx, log)
			return nil
		},
	}}, c.jobs...)

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			log.Warn("skipping job without interval", zap.String("job", job.Name))
			continue
		}
		g.Go(func() error {
			runJob(gctx, log, job)
			return nil
		})
	}
	_ = g.Wait()
	log.Info("checker stopped")
}

func runJob(ctx context.Context, log *zap.Logger, job Job) {
	log = log.With(zap.String("job", job.Name))
	log.Info("starting scheduled job", zap.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				log.Error("scheduled job failed", zap.Error(err))
				continue
			}
			log.Debug("scheduled job complete", zap.Duration("elapsed", time.Since(start)))
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
