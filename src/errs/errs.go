// Package errs defines the error kinds the storage core reports across
// component boundaries.
package errs

import (
	"strconv"

	"github.com/go-faster/errors"
)

// Sentinel error kinds, matched with errors.Is at call sites.
var (
	// ErrResourceExhausted: no frame available for NewPage/FetchPage (every
	// frame pinned).
	ErrResourceExhausted = errors.New("relcore: no buffer frame available")

	// ErrNotFound: a page id absent on an operation that requires residency,
	// or an absent directory/hash-table key.
	ErrNotFound = errors.New("relcore: not found")

	// ErrIOFailure names the disk read/write failure kind. The disk manager
	// wraps its I/O errors with a message, not with this sentinel, so
	// errors.Is does not match them against it. The core never retries; it
	// propagates the wrapped error to the caller.
	ErrIOFailure = errors.New("relcore: disk i/o failure")
)

// AbortReason enumerates the lock-manager abort reasons exposed to callers.
type AbortReason int

const (
	AbortLockOnShrinking AbortReason = iota
	AbortLockSharedOnReadUncommitted
	AbortAttemptedIntentionLockOnRow
	AbortAttemptedUnlockButNoLockHeld
	AbortTableUnlockedBeforeUnlockingRows
	AbortTableLockNotPresent
	AbortIncompatibleUpgrade
	AbortUpgradeConflict
)

func (r AbortReason) String() string {
	switch r {
	case AbortLockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case AbortLockSharedOnReadUncommitted:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case AbortAttemptedIntentionLockOnRow:
		return "ATTEMPTED_INTENTION_LOCK_ON_ROW"
	case AbortAttemptedUnlockButNoLockHeld:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case AbortTableUnlockedBeforeUnlockingRows:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case AbortTableLockNotPresent:
		return "TABLE_LOCK_NOT_PRESENT"
	case AbortIncompatibleUpgrade:
		return "INCOMPATIBLE_UPGRADE"
	case AbortUpgradeConflict:
		return "UPGRADE_CONFLICT"
	default:
		return "UNKNOWN_ABORT_REASON"
	}
}

// LockAbort is a transaction-visible abort raised by the lock manager. It
// sets the transaction's state to ABORTED before being returned.
type LockAbort struct {
	TxnID  int64
	Reason AbortReason
}

func (e *LockAbort) Error() string {
	return "relcore: txn " + strconv.FormatInt(e.TxnID, 10) + " aborted: " + e.Reason.String()
}

// NewLockAbort constructs a LockAbort for the given transaction and reason.
func NewLockAbort(txnID int64, reason AbortReason) *LockAbort {
	return &LockAbort{TxnID: txnID, Reason: reason}
}

// InvariantViolation is an error value describing a failed internal
// invariant. pkg/assert does not use it: a failed assertion panics with a
// plain formatted string.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return "relcore: invariant violation: " + e.Msg
}
