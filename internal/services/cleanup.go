package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SignalPruner deletes recorded signals older than a cutoff.
type SignalPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupConfig defines the retention of the signal audit table.
type CleanupConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

// CleanupService periodically removes old signals from the audit store.
type CleanupService struct {
	pruner SignalPruner
	config CleanupConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewCleanupService(pruner SignalPruner, config CleanupConfig, logger *logrus.Logger) *CleanupService {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &CleanupService{pruner: pruner, config: config, logger: logger, now: time.Now}
}

// Run cleans up on start and then every interval until ctx is done.
func (c *CleanupService) Run(ctx context.Context) {
	c.logger.WithFields(logrus.Fields{
		"retention": c.config.Retention.String(),
		"interval":  c.config.Interval.String(),
	}).Info("Starting cleanup service")

	runEvery(ctx, c.config.Interval, func(ctx context.Context) {
		if _, err := c.RunCleanup(ctx); err != nil {
			c.logger.WithError(err).Warn("Cleanup failed")
		}
	})
}

// RunCleanup performs one pass and returns the number of rows removed.
// A zero retention keeps everything.
func (c *CleanupService) RunCleanup(ctx context.Context) (int64, error) {
	if c.config.Retention <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.config.Retention)
	n, err := c.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup signals: %w", err)
	}
	if n > 0 {
		c.logger.WithFields(logrus.Fields{
			"rows":   n,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		}).Info("Cleaned up old signals")
	}
	return n, nil
}
