package lockmgr

import (
	"sort"
	"sync"

	"github.com/kvnovik/relcore/src/pkg/common"
)

type request struct {
	txnID   common.TxnID
	mode    Mode
	granted bool
}

// queue is the FIFO lock-request queue for one resource (one table id or
// one row id). Requests are appended in arrival order;
// an upgrade is spliced in ahead of every still-ungranted request. A
// request is granted iff it is the first ungranted entry and compatible
// with every already-granted entry ahead of it; compatible contiguous
// prefixes grant together in one pass.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading common.TxnID
}

func newQueue() *queue {
	q := &queue{upgrading: common.InvalidTxnID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends a new ungranted request and returns it. Caller holds no
// lock; enqueue takes q.mu itself.
func (q *queue) enqueue(txnID common.TxnID, mode Mode) *request {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := &request{txnID: txnID, mode: mode}
	q.requests = append(q.requests, r)
	q.grantCompatiblePrefix()
	return r
}

// enqueueUpgrade removes txnID's existing granted request and inserts a new
// ungranted one for toMode immediately ahead of the first still-ungranted
// request, marking txnID as the resource's sole upgrader.
func (q *queue) enqueueUpgrade(txnID common.TxnID, toMode Mode) *request {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != txnID {
			kept = append(kept, r)
		}
	}
	q.requests = kept

	insertAt := len(q.requests)
	for i, r := range q.requests {
		if !r.granted {
			insertAt = i
			break
		}
	}

	nr := &request{txnID: txnID, mode: toMode}
	q.requests = append(q.requests, nil)
	copy(q.requests[insertAt+1:], q.requests[insertAt:])
	q.requests[insertAt] = nr

	q.upgrading = txnID
	q.grantCompatiblePrefix()
	return nr
}

// remove deletes txnID's request (granted or not) from the queue and
// re-evaluates grants, since freeing a granted slot may unblock others.
func (q *queue) remove(txnID common.TxnID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != txnID {
			kept = append(kept, r)
		}
	}
	q.requests = kept
	if q.upgrading == txnID {
		q.upgrading = common.InvalidTxnID
	}
	q.grantCompatiblePrefix()
	q.cond.Broadcast()
}

// grantCompatiblePrefix implements the group-grant scan. Must be called
// with q.mu held.
func (q *queue) grantCompatiblePrefix() {
	grantedAhead := make([]Mode, 0, len(q.requests))

	for _, r := range q.requests {
		if r.granted {
			grantedAhead = append(grantedAhead, r.mode)
			continue
		}

		compatible := true
		for _, m := range grantedAhead {
			if !m.Compatible(r.mode) {
				compatible = false
				break
			}
		}
		if !compatible {
			break
		}

		r.granted = true
		if q.upgrading == r.txnID {
			q.upgrading = common.InvalidTxnID
		}
		grantedAhead = append(grantedAhead, r.mode)
	}
}

// wait blocks until r is granted or cond is broadcast and aborted returns
// true, at which point wait returns false.
func (q *queue) wait(r *request, aborted func() bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !r.granted {
		if aborted() {
			return false
		}
		q.cond.Wait()
	}
	return true
}

func (q *queue) broadcast() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

// grantedHolders returns the txn ids with a currently granted request,
// sorted ascending, for deterministic waits-for-graph construction.
func (q *queue) grantedHolders() []common.TxnID {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []common.TxnID
	for _, r := range q.requests {
		if r.granted {
			out = append(out, r.txnID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ungrantedWaiters returns the txn ids with a pending (ungranted) request,
// sorted ascending.
func (q *queue) ungrantedWaiters() []common.TxnID {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []common.TxnID
	for _, r := range q.requests {
		if !r.granted {
			out = append(out, r.txnID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
