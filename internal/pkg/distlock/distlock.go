// Package distlock provides the exclusive process lease that enforces a
// single running dispatcher per deployment.
//
// A second dispatcher racing the first would defeat every in-process
// safeguard (candidate caches, slot timers), so the lease is acquired
// before any scheduling work starts and held for the process lifetime.
// A held lease is NEVER broken automatically: if acquisition fails, the
// operator must decide whether the holder crashed, the same policy as
// stale contact claims, and for the same reason (guessing wrong risks a
// duplicate send, which is worse than a missed send).
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a named exclusive process lease.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lease instances.
type Lease interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// False (with nil error) means another process holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lease if we still own it.
	Release(ctx context.Context) error
}

// New creates a process lease using the best available backend.
// If redisClient is non-nil, uses Redis (preferred: TTL expiry gives
// crash recovery without operator action once the TTL elapses).
// Otherwise falls back to a PostgreSQL advisory lock, which is
// session-scoped and released automatically when the connection drops.
func New(redisClient *redis.Client, db *sql.DB, name string, ttl time.Duration) Lease {
	if redisClient != nil {
		return NewRedisLease(redisClient, name, ttl)
	}
	return NewPGAdvisoryLease(db, name)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================

// PGAdvisoryLease implements Lease using PostgreSQL advisory locks.
type PGAdvisoryLease struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLease creates a PG advisory lease with a deterministic
// lock ID derived from the given name.
func NewPGAdvisoryLease(db *sql.DB, name string) *PGAdvisoryLease {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &PGAdvisoryLease{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to take the advisory lock on a dedicated connection.
// Advisory locks are session-scoped, so the connection is pinned for
// the life of the lease.
func (l *PGAdvisoryLease) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns the pinned connection
// to the pool.
func (l *PGAdvisoryLease) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
