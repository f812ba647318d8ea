// Package health keeps the database connection alive. A trading process
// with a dead database is worse than a stopped one, so the doctor escalates
// from pings to a full pool rebuild instead of letting the loop limp along.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/notify"
)

// Conn is the slice of the database wrapper the doctor drives.
type Conn interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Doctor periodically pings the database and rebuilds the connection pool
// after repeated failures.
type Doctor struct {
	conn        Conn
	notifier    notify.Notifier
	interval    time.Duration
	maxFailures int
	logger      *zap.Logger

	failures int
}

func NewDoctor(conn Conn, notifier notify.Notifier, interval time.Duration, maxFailures int, logger *zap.Logger) *Doctor {
	return &Doctor{
		conn:        conn,
		notifier:    notifier,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger.Named("db-doctor"),
	}
}

// Run pings until ctx is cancelled.
func (d *Doctor) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.check(ctx)
		}
	}
}

func (d *Doctor) check(ctx context.Context) {
	if err := d.conn.Ping(ctx); err == nil {
		if d.failures > 0 {
			d.logger.Info("Database recovered", zap.Int("after_failures", d.failures))
		}
		d.failures = 0
		return
	} else {
		d.failures++
		d.logger.Warn("Database ping failed",
			zap.Int("consecutive_failures", d.failures),
			zap.Error(err))
	}

	if d.failures < d.maxFailures {
		return
	}

	d.logger.Error("Rebuilding database pool after repeated ping failures")
	if err := d.conn.Reconnect(ctx); err != nil {
		d.logger.Error("Database reconnect failed", zap.Error(err))
		d.notifier.Send(ctx, fmt.Sprintf("Database reconnect failed: %v", err))
		return
	}

	d.failures = 0
	d.logger.Info("Database pool rebuilt")
	d.notifier.Send(ctx, "Database connection was repaired after repeated failures")
}
