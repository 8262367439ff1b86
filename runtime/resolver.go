package runtime

import (
	"sort"

	"github.com/gammazero/deque"
	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
	"github.com/warriorguo/blockflow/utils"
)

type edgeState int

const (
	edgePending   edgeState = 0
	edgeDelivered edgeState = 1
	edgeDead      edgeState = 2
)

type invocation struct {
	blockID string
	input   types.Data
}

/**
 * resolver walks a graph from its starter block, interleaving planning
 * and execution. A block becomes ready when every forward edge into it
 * is resolved and at least one of them delivered an output, it is dead
 * when all of them are dead. Ready blocks run in FIFO order.
 *
 * Edges that a loop member did not select are only declared dead when
 * nothing else can run, a later iteration may still take them.
 */
type resolver struct {
	e  *Engine
	g  *graph
	ec *execContext

	frontier deque.Deque[invocation]

	state   []edgeState
	outputs []types.Data

	// fired marks blocks that already ran or were declared dead.
	fired map[string]bool
	// deferred holds unselected edges leaving loop members.
	deferred map[int]bool

	iterations map[string]int

	logs       []*types.LogEntry
	lastOutput types.Data
}

func newResolver(e *Engine, g *graph, ec *execContext) *resolver {
	return &resolver{
		e:          e,
		g:          g,
		ec:         ec,
		state:      make([]edgeState, len(g.wf.Connections)),
		outputs:    make([]types.Data, len(g.wf.Connections)),
		fired:      make(map[string]bool),
		deferred:   make(map[int]bool),
		iterations: make(map[string]int),
		logs:       make([]*types.LogEntry, 0, len(g.blocks)),
	}
}

/**
 * run returns the error message of the failure that stopped the walk,
 * an empty string when every reachable block completed.
 */
func (r *resolver) run(input types.Data) string {
	r.fired[r.g.starter.ID] = true
	r.frontier.PushBack(invocation{blockID: r.g.starter.ID, input: input})

	for {
		for r.frontier.Len() > 0 {
			if err := r.ec.Err(); err != nil {
				return errors.Annotate(err, "execution cancelled").Error()
			}
			inv := r.frontier.PopFront()
			if msg := r.step(inv); msg != "" {
				return msg
			}
		}
		if !r.flushDeferred() {
			return ""
		}
	}
}

func (r *resolver) step(inv invocation) string {
	block := r.g.blocks[inv.blockID]
	output, entry, err := r.e.invokeBlock(r.ec, block, inv.input)
	r.logs = append(r.logs, entry)
	if err != nil {
		r.ec.Logger().WithField("block", block.ID).Warnf("block failed: %v", err)
		return blockFailure(block, err)
	}
	r.lastOutput = output

	selected := r.selectEdges(block, output)
	for _, idx := range r.g.outgoing[block.ID] {
		if !selected[idx] {
			if r.g.inLoop(block.ID) {
				r.deferred[idx] = true
			} else {
				r.kill(idx)
			}
			continue
		}
		delete(r.deferred, idx)
		if loop, isBack := r.g.backEdges[idx]; isBack {
			if msg := r.iterate(loop, output); msg != "" {
				return msg
			}
			continue
		}
		r.deliver(idx, output)
	}
	return ""
}

/**
 * selectEdges decides which outgoing edges carry the output:
 * a condition takes the edges on the handle of the condition that held,
 * a router takes the edges whose handle or target equals its route,
 * every other block takes all of them.
 */
func (r *resolver) selectEdges(block *types.Block, output types.Data) map[int]bool {
	selected := make(map[int]bool)
	outgoing := r.g.outgoing[block.ID]

	switch block.Type {
	case types.BlockCondition:
		if held, _ := output.GetBool(keyConditionResult); !held {
			return selected
		}
		condID, _ := output.GetString(keySelectedCondition)
		handle := types.ConditionHandle(condID)
		for _, idx := range outgoing {
			if r.g.edge(idx).SourceHandle == handle {
				selected[idx] = true
			}
		}
	case types.BlockRouter:
		route, _ := output.GetString(keySelectedRoute)
		for _, idx := range outgoing {
			conn := r.g.edge(idx)
			if route != "" && (conn.SourceHandle == route || conn.Target == route) {
				selected[idx] = true
			}
		}
	default:
		for _, idx := range outgoing {
			selected[idx] = true
		}
		return selected
	}

	for idx := range selected {
		target := r.g.blocks[r.g.edge(idx).Target]
		output.Set(keySelectedPath, map[string]any{
			"blockId":    target.ID,
			"blockType":  string(target.Type),
			"blockTitle": target.Name,
		})
		break
	}
	return selected
}

func (r *resolver) deliver(idx int, output types.Data) {
	r.state[idx] = edgeDelivered
	r.outputs[idx] = output
	r.check(r.g.edge(idx).Target)
}

func (r *resolver) kill(idx int) {
	r.state[idx] = edgeDead
	r.outputs[idx] = nil
	r.check(r.g.edge(idx).Target)
}

// check schedules or kills blockID once all its forward inputs are resolved.
func (r *resolver) check(blockID string) {
	if r.fired[blockID] {
		return
	}
	delivered := 0
	for _, idx := range r.g.incoming[blockID] {
		switch r.state[idx] {
		case edgePending:
			return
		case edgeDelivered:
			delivered++
		}
	}
	r.fired[blockID] = true

	if delivered == 0 {
		r.ec.Logger().Debugf("block %s is on a dead branch", blockID)
		for _, idx := range r.g.outgoing[blockID] {
			if !r.g.isBackEdge(idx) {
				r.kill(idx)
			}
		}
		return
	}
	r.frontier.PushBack(invocation{blockID: blockID, input: r.mergeInputs(blockID)})
}

// mergeInputs merges the delivered outputs in connection order, later edges win.
func (r *resolver) mergeInputs(blockID string) types.Data {
	merged := types.Data{}
	for _, idx := range r.g.incoming[blockID] {
		if r.state[idx] == edgeDelivered {
			utils.MergeInto(merged, r.outputs[idx])
		}
	}
	return merged
}

/**
 * iterate follows a back-edge: the loop members become runnable again
 * and the head is scheduled with the output that closed the loop.
 */
func (r *resolver) iterate(loop *types.LoopConfig, output types.Data) string {
	r.iterations[loop.ID]++
	limit := r.e.loopLimit(loop)
	if r.iterations[loop.ID] > limit {
		return errors.Errorf("loop %s exceeded the maximum of %d iterations", loop.ID, limit).Error()
	}
	r.ec.Logger().Debugf("loop %s iteration %d", loop.ID, r.iterations[loop.ID])

	// loops nested in this one start counting again on every pass
	for _, inner := range r.g.wf.Loops {
		if inner != loop && nestedIn(inner, loop) {
			delete(r.iterations, inner.ID)
		}
	}

	for idx, conn := range r.g.wf.Connections {
		if r.g.isBackEdge(idx) {
			continue
		}
		if loop.Contains(conn.Source) && loop.Contains(conn.Target) {
			r.state[idx] = edgePending
			r.outputs[idx] = nil
			delete(r.deferred, idx)
		}
	}
	for _, member := range loop.Nodes {
		r.fired[member] = false
	}

	head := loop.Head()
	r.fired[head] = true
	r.frontier.PushBack(invocation{blockID: head, input: output.Clone()})
	return ""
}

/**
 * flushDeferred declares deferred edges dead once the frontier drained.
 * Edges staying inside a loop go first, they may unblock another
 * iteration. Edges leaving a loop are only killed when that did not
 * schedule anything. It reports whether anything was resolved.
 */
func (r *resolver) flushDeferred() bool {
	if len(r.deferred) == 0 {
		return false
	}
	inner := make([]int, 0, len(r.deferred))
	outer := make([]int, 0, len(r.deferred))
	for idx := range r.deferred {
		conn := r.g.edge(idx)
		if r.g.sameLoop(conn.Source, conn.Target) {
			inner = append(inner, idx)
		} else {
			outer = append(outer, idx)
		}
	}
	sort.Ints(inner)
	sort.Ints(outer)

	batch := inner
	if len(batch) == 0 {
		batch = outer
	}
	for _, idx := range batch {
		delete(r.deferred, idx)
		if r.state[idx] == edgePending {
			r.kill(idx)
		}
	}
	return true
}

func nestedIn(inner, outer *types.LoopConfig) bool {
	if inner == nil || len(inner.Nodes) >= len(outer.Nodes) {
		return false
	}
	for _, member := range inner.Nodes {
		if !outer.Contains(member) {
			return false
		}
	}
	return true
}

func (e *Engine) loopLimit(loop *types.LoopConfig) int {
	limit := e.opts.MaxLoopIterations
	if loop.Iterations > 0 && loop.Iterations < limit {
		limit = loop.Iterations
	}
	return limit
}

// responseOf converts the output of the last executed block into the result response.
func responseOf(output types.Data) any {
	if output == nil {
		return nil
	}
	return map[string]any(output)
}
