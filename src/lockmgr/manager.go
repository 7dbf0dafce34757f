// Package lockmgr implements the hierarchical multi-granularity lock
// manager: table/row locks, five modes, FIFO waiters with group-compatible
// grants, upgrades, isolation-level admission, and background deadlock
// detection via waits-for cycle finding.
package lockmgr

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kvnovik/relcore/src/errs"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/txn"
)

// Manager grants, queues, upgrades, and releases table and row locks.
type Manager struct {
	mu sync.Mutex

	tableQueues map[txn.TableID]*queue
	rowQueues   map[rowKey]*queue
	contexts    map[common.TxnID]*txn.Context

	log      *zap.SugaredLogger
	detector *detector
}

type rowKey struct {
	table txn.TableID
	rid   common.RecordID
}

// New constructs a lock manager. Start the returned manager's deadlock
// detector separately with StartDetector.
func New(log *zap.SugaredLogger) *Manager {
	return &Manager{
		tableQueues: map[txn.TableID]*queue{},
		rowQueues:   map[rowKey]*queue{},
		contexts:    map[common.TxnID]*txn.Context{},
		log:         log,
	}
}

func (m *Manager) register(ctx *txn.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[ctx.ID()] = ctx
}

func (m *Manager) tableQueue(table txn.TableID) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.tableQueues[table]
	if !ok {
		q = newQueue()
		m.tableQueues[table] = q
	}
	return q
}

func (m *Manager) rowQueue(table txn.TableID, rid common.RecordID) *queue {
	key := rowKey{table, rid}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rowQueues[key]
	if !ok {
		q = newQueue()
		m.rowQueues[key] = q
	}
	return q
}

func isAborted(ctx *txn.Context) bool { return ctx.State() == Aborted }

// abort transitions ctx to ABORTED and returns a *errs.LockAbort for reason.
func (m *Manager) abort(ctx *txn.Context, reason errs.AbortReason) error {
	ctx.SetState(Aborted)
	m.log.Warnw("lock abort", "txn", ctx.ID(), "reason", reason.String())
	return errs.NewLockAbort(int64(ctx.ID()), reason)
}

func tableAdmission(isolation IsolationLevel, state State, mode Mode) (errs.AbortReason, bool) {
	switch isolation {
	case ReadUncommitted:
		if mode == S || mode == IS || mode == SIX {
			return errs.AbortLockSharedOnReadUncommitted, false
		}
		if state == Shrinking {
			return errs.AbortLockOnShrinking, false
		}
	case ReadCommitted:
		if state == Shrinking && mode != IS && mode != S {
			return errs.AbortLockOnShrinking, false
		}
	case RepeatableRead:
		if state == Shrinking {
			return errs.AbortLockOnShrinking, false
		}
	}
	return 0, true
}

// LockTable acquires mode on table for the transaction owning ctx, blocking
// until granted, aborted, or deadlock-victimized.
func (m *Manager) LockTable(ctx *txn.Context, mode Mode, table txn.TableID) error {
	m.register(ctx)

	if reason, ok := tableAdmission(ctx.Isolation(), ctx.State(), mode); !ok {
		return m.abort(ctx, reason)
	}

	if held, ok := ctx.TableLockMode(table); ok {
		if held == mode {
			return nil
		}
		return m.upgradeTable(ctx, held, mode, table)
	}

	q := m.tableQueue(table)
	r := q.enqueue(ctx.ID(), mode)

	if !q.wait(r, func() bool { return isAborted(ctx) }) {
		q.remove(ctx.ID())
		return errs.NewLockAbort(int64(ctx.ID()), errs.AbortLockOnShrinking)
	}

	ctx.GrantTableLock(mode, table)
	return nil
}

func (m *Manager) upgradeTable(ctx *txn.Context, held, to Mode, table txn.TableID) error {
	if !held.Upgradable(to) {
		return m.abort(ctx, errs.AbortIncompatibleUpgrade)
	}

	q := m.tableQueue(table)

	q.mu.Lock()
	if q.upgrading != common.InvalidTxnID && q.upgrading != ctx.ID() {
		q.mu.Unlock()
		return m.abort(ctx, errs.AbortUpgradeConflict)
	}
	q.mu.Unlock()

	r := q.enqueueUpgrade(ctx.ID(), to)

	if !q.wait(r, func() bool { return isAborted(ctx) }) {
		q.remove(ctx.ID())
		return errs.NewLockAbort(int64(ctx.ID()), errs.AbortLockOnShrinking)
	}

	ctx.RevokeTableLock(held, table)
	ctx.GrantTableLock(to, table)
	return nil
}

// UnlockTable releases table, aborting if no lock is held or if any row
// lock on table is still held. May transition GROWING->SHRINKING.
func (m *Manager) UnlockTable(ctx *txn.Context, table txn.TableID) error {
	mode, ok := ctx.TableLockMode(table)
	if !ok {
		return m.abort(ctx, errs.AbortAttemptedUnlockButNoLockHeld)
	}
	if ctx.HasAnyRowLock(table) {
		return m.abort(ctx, errs.AbortTableUnlockedBeforeUnlockingRows)
	}

	q := m.tableQueue(table)
	q.remove(ctx.ID())
	ctx.RevokeTableLock(mode, table)

	if shouldShrink(ctx.Isolation(), mode) && ctx.State() == Growing {
		ctx.SetState(Shrinking)
	}
	return nil
}

func rowAdmission(isolation IsolationLevel, state State, mode Mode, tableMode Mode, hasTableLock bool) (errs.AbortReason, bool) {
	if mode.IsIntention() {
		return errs.AbortAttemptedIntentionLockOnRow, false
	}
	if reason, ok := tableAdmission(isolation, state, mode); !ok {
		return reason, false
	}
	if !hasTableLock {
		return errs.AbortTableLockNotPresent, false
	}
	if mode == X && !(tableMode == X || tableMode == IX || tableMode == SIX) {
		return errs.AbortTableLockNotPresent, false
	}
	return 0, true
}

// LockRow acquires mode (S or X only) on rid within table.
func (m *Manager) LockRow(ctx *txn.Context, mode Mode, table txn.TableID, rid common.RecordID) error {
	m.register(ctx)

	tableMode, hasTableLock := ctx.TableLockMode(table)
	if reason, ok := rowAdmission(ctx.Isolation(), ctx.State(), mode, tableMode, hasTableLock); !ok {
		return m.abort(ctx, reason)
	}

	if ctx.HasRowLock(mode, table, rid) {
		return nil
	}

	q := m.rowQueue(table, rid)
	r := q.enqueue(ctx.ID(), mode)

	if !q.wait(r, func() bool { return isAborted(ctx) }) {
		q.remove(ctx.ID())
		return errs.NewLockAbort(int64(ctx.ID()), errs.AbortLockOnShrinking)
	}

	ctx.GrantRowLock(mode, table, rid)
	return nil
}

// UnlockRow releases mode's lock on rid within table.
func (m *Manager) UnlockRow(ctx *txn.Context, mode Mode, table txn.TableID, rid common.RecordID) error {
	if !ctx.HasRowLock(mode, table, rid) {
		return m.abort(ctx, errs.AbortAttemptedUnlockButNoLockHeld)
	}

	q := m.rowQueue(table, rid)
	q.remove(ctx.ID())
	ctx.RevokeRowLock(mode, table, rid)

	if shouldShrink(ctx.Isolation(), mode) && ctx.State() == Growing {
		ctx.SetState(Shrinking)
	}
	return nil
}

// shouldShrink reports whether releasing mode moves a 2PL transaction from
// its growing phase into its shrinking phase, which depends on isolation
// level: under repeatable read unlocking S or X shrinks, elsewhere only an
// X unlock does. Unlocking an intention mode (IS, IX, SIX) never shrinks.
func shouldShrink(isolation IsolationLevel, mode Mode) bool {
	switch isolation {
	case RepeatableRead:
		return mode == S || mode == X
	default:
		return mode == X
	}
}
