package lockmgr

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kvnovik/relcore/src/pkg/common"
)

// edge is a waits-for graph edge: waiter is blocked behind holder.
type edge struct {
	waiter common.TxnID
	holder common.TxnID
}

// detector periodically rebuilds the waits-for graph across every table and
// row queue and aborts the youngest transaction in each cycle it finds.
type detector struct {
	m       *Manager
	tick    time.Duration
	log     *zap.SugaredLogger
	enabled atomic.Bool
}

// StartDetector launches the background cycle-detection loop at the given
// tick interval. Cancel ctx to stop it.
func (m *Manager) StartDetector(ctx context.Context, tick time.Duration) {
	d := &detector{m: m, tick: tick, log: m.log}
	d.enabled.Store(true)
	m.detector = d

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if d.enabled.Load() {
					m.runCycleDetection()
				}
			}
		}
	}()
}

// SetCycleDetection turns periodic detection on or off.
func (m *Manager) SetCycleDetection(on bool) {
	if m.detector == nil {
		return
	}
	m.detector.enabled.Store(on)
}

// allQueues returns a stable-ordered snapshot of every live table and row
// queue, for deterministic graph construction.
func (m *Manager) allQueues() []*queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*queue, 0, len(m.tableQueues)+len(m.rowQueues))
	for _, q := range m.tableQueues {
		out = append(out, q)
	}
	for _, q := range m.rowQueues {
		out = append(out, q)
	}
	return out
}

// buildWaitsForGraph derives, for every queue, an edge from each ungranted
// waiter to every granted holder ahead of it (since FIFO group-granting
// means a waiter is blocked on the entire granted prefix, not just the
// queue head).
func (m *Manager) buildWaitsForGraph() map[common.TxnID]map[common.TxnID]struct{} {
	graph := map[common.TxnID]map[common.TxnID]struct{}{}

	addEdge := func(waiter, holder common.TxnID) {
		if waiter == holder {
			return
		}
		if graph[waiter] == nil {
			graph[waiter] = map[common.TxnID]struct{}{}
		}
		graph[waiter][holder] = struct{}{}
	}

	for _, q := range m.allQueues() {
		holders := q.grantedHolders()
		waiters := q.ungrantedWaiters()
		for _, w := range waiters {
			for _, h := range holders {
				addEdge(w, h)
			}
		}
	}
	return graph
}

// GetEdgeList returns every waits-for edge currently derivable from the live
// queues, sorted for determinism: by waiter id, then holder id.
func (m *Manager) GetEdgeList() []edge {
	graph := m.buildWaitsForGraph()

	var out []edge
	for w, holders := range graph {
		for h := range holders {
			out = append(out, edge{waiter: w, holder: h})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].waiter != out[j].waiter {
			return out[i].waiter < out[j].waiter
		}
		return out[i].holder < out[j].holder
	})
	return out
}

// runCycleDetection rebuilds the waits-for graph and aborts the youngest
// (largest id) transaction in each cycle found, repeating until the graph
// derived from the live queues is acyclic.
func (m *Manager) runCycleDetection() {
	for {
		graph := m.buildWaitsForGraph()
		victim, found := findCycleVictim(graph)
		if !found {
			return
		}

		m.mu.Lock()
		ctx, ok := m.contexts[victim]
		m.mu.Unlock()
		if ok {
			ctx.SetState(Aborted)
			m.log.Warnw("deadlock detected, aborting youngest transaction", "txn", victim)
		}

		for _, q := range m.allQueues() {
			q.broadcast()
		}
	}
}

// findCycleVictim runs a three-color DFS over graph (ids visited in
// ascending order for determinism) and returns the largest txn id
// participating in the first cycle found.
func findCycleVictim(graph map[common.TxnID]map[common.TxnID]struct{}) (common.TxnID, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	nodes := make([]common.TxnID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	color := map[common.TxnID]int{}
	var stack []common.TxnID

	var dfs func(common.TxnID) (common.TxnID, bool)
	dfs = func(n common.TxnID) (common.TxnID, bool) {
		color[n] = gray
		stack = append(stack, n)

		neighbors := make([]common.TxnID, 0, len(graph[n]))
		for h := range graph[n] {
			neighbors = append(neighbors, h)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, nb := range neighbors {
			switch color[nb] {
			case white:
				if v, ok := dfs(nb); ok {
					return v, true
				}
			case gray:
				var max common.TxnID = n
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] > max {
						max = stack[i]
					}
					if stack[i] == nb {
						break
					}
				}
				return max, true
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
		return 0, false
	}

	for _, n := range nodes {
		if color[n] == white {
			if v, ok := dfs(n); ok {
				return v, true
			}
		}
	}
	return 0, false
}
