package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobMetrics receives background job outcomes. Satisfied by *jobs.Metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
	AddSwept(jobType string, n int)
}

// DefaultSweepInterval is used when SweepJobConfig.Interval is zero.
const DefaultSweepInterval = 5 * time.Minute

// SweepJobConfig configures a SweepJob.
type SweepJobConfig struct {
	// JobType labels metrics, e.g. jobs.JobTypeGeoCacheSweep.
	JobType    string
	Interval   time.Duration
	Logger     *slog.Logger
	JobMetrics JobMetrics
}

// SweepJob periodically removes expired entries from a Sweeper so that a
// bounded memory cache does not fill up with dead entries between lookups.
type SweepJob struct {
	config  SweepJobConfig
	sweeper Sweeper

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweepJob creates a sweep job for sweeper.
func NewSweepJob(config SweepJobConfig, sweeper Sweeper) *SweepJob {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.JobType == "" {
		config.JobType = "cache_sweep"
	}
	return &SweepJob{config: config, sweeper: sweeper}
}

// Start launches the sweep loop in a goroutine. Calling Start on a running job is a no-op.
func (j *SweepJob) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (j *SweepJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning reports whether the loop is active.
func (j *SweepJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SweepJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("cache sweep job stopping due to context cancellation", "job_type", j.config.JobType)
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.SweepNow(ctx)
		}
	}
}

// SweepNow runs one sweep immediately and returns the number of removed entries.
func (j *SweepJob) SweepNow(ctx context.Context) int {
	start := time.Now()
	removed, err := j.sweeper.Sweep(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		j.config.Logger.Error("cache sweep failed", "job_type", j.config.JobType, "error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(j.config.JobType, "sweep_error")
		}
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(j.config.JobType, status)
		j.config.JobMetrics.ObserveJobDuration(j.config.JobType, duration)
		j.config.JobMetrics.AddSwept(j.config.JobType, removed)
	}
	if removed > 0 {
		j.config.Logger.Debug("cache sweep completed",
			"job_type", j.config.JobType,
			"removed", removed,
			"duration_seconds", duration)
	}
	return removed
}
