package lockmgr

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

// advisoryClass is the first half of every two-key advisory lock taken here,
// keeping coupon locks apart from other users of the database.
const advisoryClass = 0x434F

const (
	tryLockQuery = `SELECT pg_try_advisory_lock($1::int, hashtext($2))`
	unlockQuery  = `SELECT pg_advisory_unlock($1::int, hashtext($2))`

	// terminateHolderQuery ends the session of another process holding the
	// lock. The lock dies with the session; each session pins a single key.
	terminateHolderQuery = `
		SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
		FROM pg_locks
		WHERE locktype = 'advisory'
		  AND granted
		  AND database = (SELECT oid FROM pg_database WHERE datname = current_database())
		  AND classid = $1::int::oid
		  AND objid = hashtext($2)::oid
		  AND objsubid = 2
		  AND pid <> pg_backend_pid()`
)

// Advisory is a Manager backed by PostgreSQL session-level advisory locks.
//
// Session locks belong to a connection, so every held key pins one
// connection until it is released. Those connections come from a pool
// reserved for locks: at most capacity keys are held at once, and a request
// beyond that fails immediately with a Locked error instead of waiting on
// the pool. The pool needs one connection more than capacity for
// ForceRelease. If the process dies its sessions end and PostgreSQL drops
// the locks with them.
type Advisory struct {
	db       *sqlx.DB
	slots    *semaphore.Weighted
	capacity int
	logger   *zap.Logger

	mu   sync.Mutex
	held map[string]*advisoryLock
}

type advisoryLock struct {
	conn   *sqlx.Conn
	holder string
}

// NewAdvisory creates an advisory lock manager holding at most capacity
// keys on connections from db.
func NewAdvisory(db *sqlx.DB, capacity int, logger *zap.Logger) *Advisory {
	capacity = max(capacity, 1)
	return &Advisory{
		db:       db,
		slots:    semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		logger:   logger.Named("advisory"),
		held:     make(map[string]*advisoryLock),
	}
}

// TryAcquire implements Manager using pg_try_advisory_lock.
func (a *Advisory) TryAcquire(ctx context.Context, key, holder string) (bool, error) {
	if !a.slots.TryAcquire(1) {
		return false, apperr.New(apperr.Locked, "all %d coupon lock connections are in use", a.capacity)
	}

	conn, err := a.db.Connx(ctx)
	if err != nil {
		a.slots.Release(1)
		return false, fmt.Errorf("failed to pin connection for advisory lock: %w", err)
	}

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, tryLockQuery, advisoryClass, key); err != nil {
		a.discard(conn)
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		a.slots.Release(1)
		return false, nil
	}

	a.mu.Lock()
	stale := a.held[key]
	a.held[key] = &advisoryLock{conn: conn, holder: holder}
	a.mu.Unlock()

	if stale != nil {
		// Another session could not have taken the key while this one held
		// it, so the old session was ended from outside.
		a.logger.Warn("advisory lock session was terminated",
			zap.String("key", key),
			zap.String("holder", stale.holder))
		a.discard(stale.conn)
	}
	return true, nil
}

// Release implements Manager.
func (a *Advisory) Release(ctx context.Context, key, holder string) (bool, error) {
	a.mu.Lock()
	l, ok := a.held[key]
	if !ok || l.holder != holder {
		a.mu.Unlock()
		return false, nil
	}
	delete(a.held, key)
	a.mu.Unlock()

	return true, a.unlock(ctx, key, l)
}

// ForceRelease implements Manager. A key pinned by this process is unlocked
// on its own connection. A key pinned by another process is freed by ending
// that process's lock session.
func (a *Advisory) ForceRelease(ctx context.Context, key string) (bool, error) {
	a.mu.Lock()
	l, ok := a.held[key]
	if ok {
		delete(a.held, key)
	}
	a.mu.Unlock()
	if ok {
		return true, a.unlock(ctx, key, l)
	}

	var terminated bool
	if err := a.db.GetContext(ctx, &terminated, terminateHolderQuery, advisoryClass, key); err != nil {
		return false, fmt.Errorf("failed to end advisory lock holder session: %w", err)
	}
	if terminated {
		a.logger.Warn("terminated session holding advisory lock", zap.String("key", key))
	}
	return terminated, nil
}

// Close releases every lock this process still holds.
func (a *Advisory) Close(ctx context.Context) error {
	a.mu.Lock()
	held := a.held
	a.held = make(map[string]*advisoryLock)
	a.mu.Unlock()

	var firstErr error
	for key, l := range held {
		if err := a.unlock(ctx, key, l); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Advisory) unlock(ctx context.Context, key string, l *advisoryLock) error {
	ctx = context.WithoutCancel(ctx)

	var released bool
	err := l.conn.GetContext(ctx, &released, unlockQuery, advisoryClass, key)
	switch {
	case err == nil:
		if !released {
			a.logger.Warn("advisory lock was not held by its session", zap.String("key", key))
		}
		err = l.conn.Close()
		a.slots.Release(1)
		return err
	case sessionGone(err):
		// the lock ended with its session
		a.logger.Warn("advisory lock session already ended", zap.String("key", key), zap.Error(err))
		a.discard(l.conn)
		return nil
	}

	// The session may still own the lock; drop the connection instead of
	// handing it back to the pool.
	a.logger.Error("advisory unlock failed, discarding connection", zap.String("key", key), zap.Error(err))
	a.discard(l.conn)
	return fmt.Errorf("failed to release advisory lock: %w", err)
}

// discard closes conn without returning it to the pool and frees its slot.
func (a *Advisory) discard(conn *sqlx.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
	a.slots.Release(1)
}

// sessionGone reports whether err means the connection's session has ended,
// taking its advisory locks with it.
func sessionGone(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.EOF) {
		return true
	}
	var pqErr *pq.Error
	// class 57: operator intervention, e.g. pg_terminate_backend
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "57"
}
