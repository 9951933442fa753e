package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// AdvisoryLocker wraps Postgres session advisory locks. The dispatcher and
// delivery loops deliberately do NOT take a lock (concurrent ticks are safe
// through the notification ledger and the outbox dedupe key); the
// stuck-processing sweep uses it to run single-flight across replicas.
//
// Advisory locks are session-scoped, so each held lock pins a dedicated
// connection until Unlock — lock and unlock through the pool would land on
// different sessions.
type AdvisoryLocker struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[int64]*sql.Conn
}

func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, conns: make(map[int64]*sql.Conn)}
}

// TryLock attempts to take the lock without blocking. Returns false when
// another session holds it.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.conns[key]; held {
		return false, fmt.Errorf("advisory lock %d is already held by this locker", key)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("error acquiring connection for advisory lock %d: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("error acquiring advisory lock %d: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conns[key] = conn
	return true, nil
}

// Unlock releases a lock previously taken with TryLock.
func (l *AdvisoryLocker) Unlock(ctx context.Context, key int64) error {
	l.mu.Lock()
	conn, held := l.conns[key]
	delete(l.conns, key)
	l.mu.Unlock()
	if !held {
		return fmt.Errorf("advisory lock %d is not held by this locker", key)
	}
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released); err != nil {
		return fmt.Errorf("error releasing advisory lock %d: %w", key, err)
	}
	if !released {
		return fmt.Errorf("advisory lock %d was not held by this session", key)
	}
	return nil
}
