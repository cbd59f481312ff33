// Package shutdowncheck detects and records unclean process shutdowns.
// Geth tracks this in its node database with a small ring of recent
// shutdown records; this adapts the same idea to the Postgres store this
// system already depends on, rather than introducing a second local
// database just for a liveness marker.
package shutdowncheck

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ShutdownTracker records this process's lifetime in the shutdown_marker
// table so the next startup can detect whether the previous run exited
// cleanly.
type ShutdownTracker struct {
	pool *pgxpool.Pool
	log  log.Logger
}

// NewShutdownTracker builds a tracker against the given pool. The table is
// expected to already exist (created by storage.Migrate).
func NewShutdownTracker(pool *pgxpool.Pool) *ShutdownTracker {
	return &ShutdownTracker{pool: pool, log: log.New("component", "shutdowncheck")}
}

// MarkStartup records this process as started, warning if the previous
// run's marker was never cleared (an unclean shutdown).
func (t *ShutdownTracker) MarkStartup(ctx context.Context) {
	var lastStarted time.Time
	var lastClean bool
	err := t.pool.QueryRow(ctx, `SELECT started_at, clean_shutdown FROM shutdown_marker ORDER BY started_at DESC LIMIT 1`).
		Scan(&lastStarted, &lastClean)
	if err == nil && !lastClean {
		t.log.Warn("detected unclean shutdown of previous run", "last_started", lastStarted)
	}

	_, err = t.pool.Exec(ctx, `INSERT INTO shutdown_marker (started_at, clean_shutdown) VALUES ($1, false)`, time.Now().UTC())
	if err != nil {
		t.log.Warn("failed to record startup marker", "error", err)
	}
}

// MarkCleanShutdown flags this run's marker as cleanly stopped. Call it as
// the last step of graceful shutdown.
func (t *ShutdownTracker) MarkCleanShutdown(ctx context.Context) {
	_, err := t.pool.Exec(ctx, `UPDATE shutdown_marker SET clean_shutdown = true WHERE started_at = (SELECT MAX(started_at) FROM shutdown_marker)`)
	if err != nil {
		t.log.Warn("failed to record clean shutdown", "error", err)
	}
}
