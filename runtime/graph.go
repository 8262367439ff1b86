package runtime

import (
	"github.com/warriorguo/blockflow/types"
)

/**
 * graph is the execution index of a validated workflow.
 * Edges are addressed by their position in Workflow.Connections so that
 * declaration order is preserved everywhere it matters (merging inputs,
 * choosing branches).
 */
type graph struct {
	wf *types.Workflow

	blocks  map[string]*types.Block
	starter *types.Block

	outgoing map[string][]int
	// incoming holds forward edges only, declared back-edges are excluded.
	incoming map[string][]int

	// backEdges maps an edge index to the loop it closes.
	backEdges map[int]*types.LoopConfig
	// memberOf lists the loops each block belongs to.
	memberOf map[string][]*types.LoopConfig
}

func (g *graph) edge(idx int) *types.Connection {
	return g.wf.Connections[idx]
}

func (g *graph) isBackEdge(idx int) bool {
	_, exists := g.backEdges[idx]
	return exists
}

func (g *graph) inLoop(blockID string) bool {
	return len(g.memberOf[blockID]) > 0
}

// sameLoop reports whether both blocks are members of one declared loop.
func (g *graph) sameLoop(a, b string) bool {
	for _, loop := range g.memberOf[a] {
		if loop.Contains(b) {
			return true
		}
	}
	return false
}

/**
 * Validate checks the structural invariants of a workflow:
 *   - block ids are unique and every block type is known
 *   - exactly one starter block exists and nothing points at it
 *   - every connection references existing blocks
 *   - condition blocks have at most one outgoing edge per handle
 *   - loop members exist
 *   - with declared back-edges removed the graph is acyclic
 *   - every block is reachable from the starter
 */
func Validate(wf *types.Workflow) error {
	_, err := buildGraph(wf)
	return err
}

func buildGraph(wf *types.Workflow) (*graph, error) {
	if wf == nil {
		return nil, types.NewValidationErrorf(types.InvalidGraph, "workflow is nil")
	}
	g := &graph{
		wf:        wf,
		blocks:    make(map[string]*types.Block, len(wf.Blocks)),
		outgoing:  make(map[string][]int),
		incoming:  make(map[string][]int),
		backEdges: make(map[int]*types.LoopConfig),
		memberOf:  make(map[string][]*types.LoopConfig),
	}

	for _, block := range wf.Blocks {
		if block == nil || block.ID == "" {
			return nil, types.NewValidationErrorf(types.InvalidGraph, "block without id")
		}
		if _, exists := g.blocks[block.ID]; exists {
			return nil, types.NewValidationErrorf(types.DuplicateBlockID, "block %s already exists", block.ID)
		}
		if !block.Type.Valid() {
			return nil, types.NewValidationErrorf(types.InvalidGraph, "block %s has unknown type %q", block.ID, block.Type)
		}
		g.blocks[block.ID] = block
	}

	starters := wf.StarterBlocks()
	switch len(starters) {
	case 0:
		return nil, types.NewValidationErrorf(types.NoStarterBlock, "workflow %q", wf.Name)
	case 1:
		g.starter = starters[0]
	default:
		return nil, types.NewValidationErrorf(types.InvalidGraph, "workflow %q has %d starter blocks", wf.Name, len(starters))
	}

	for id, loop := range wf.Loops {
		if loop == nil || len(loop.Nodes) == 0 {
			return nil, types.NewValidationErrorf(types.InvalidGraph, "loop %s has no nodes", id)
		}
		for _, member := range loop.Nodes {
			if _, exists := g.blocks[member]; !exists {
				return nil, types.NewValidationErrorf(types.UnknownBlock, "loop %s member %s", id, member)
			}
			g.memberOf[member] = append(g.memberOf[member], loop)
		}
	}

	handles := make(map[string]bool)
	for idx, conn := range wf.Connections {
		if conn == nil {
			return nil, types.NewValidationErrorf(types.InvalidGraph, "connection %d is nil", idx)
		}
		source, exists := g.blocks[conn.Source]
		if !exists {
			return nil, types.NewValidationErrorf(types.UnknownBlock, "connection source %s", conn.Source)
		}
		if _, exists := g.blocks[conn.Target]; !exists {
			return nil, types.NewValidationErrorf(types.UnknownBlock, "connection target %s", conn.Target)
		}
		if conn.Target == g.starter.ID {
			return nil, types.NewValidationErrorf(types.InvalidGraph, "starter block %s has an incoming edge from %s", conn.Target, conn.Source)
		}
		if source.Type == types.BlockCondition && conn.SourceHandle != "" {
			key := conn.Source + "|" + conn.SourceHandle
			if handles[key] {
				return nil, types.NewValidationErrorf(types.InvalidGraph, "condition %s has more than one edge on handle %s", conn.Source, conn.SourceHandle)
			}
			handles[key] = true
		}

		g.outgoing[conn.Source] = append(g.outgoing[conn.Source], idx)
		if loop := g.closingLoop(conn); loop != nil {
			g.backEdges[idx] = loop
			continue
		}
		g.incoming[conn.Target] = append(g.incoming[conn.Target], idx)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := g.checkReachable(); err != nil {
		return nil, err
	}
	return g, nil
}

// closingLoop returns the loop whose head conn points back to from one of its members.
func (g *graph) closingLoop(conn *types.Connection) *types.LoopConfig {
	for _, loop := range g.memberOf[conn.Source] {
		if loop.Head() == conn.Target {
			return loop
		}
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the forward edges.
func (g *graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.blocks))
	for id := range g.blocks {
		indegree[id] = len(g.incoming[id])
	}
	queue := make([]string, 0, len(g.blocks))
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, idx := range g.outgoing[id] {
			if g.isBackEdge(idx) {
				continue
			}
			target := g.edge(idx).Target
			if indegree[target]--; indegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}
	if visited != len(g.blocks) {
		return types.NewValidationErrorf(types.InvalidGraph, "workflow %q has a cycle that is not a declared loop", g.wf.Name)
	}
	return nil
}

func (g *graph) checkReachable() error {
	seen := map[string]bool{g.starter.ID: true}
	stack := []string{g.starter.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, idx := range g.outgoing[id] {
			target := g.edge(idx).Target
			if !seen[target] {
				seen[target] = true
				stack = append(stack, target)
			}
		}
	}
	for _, block := range g.wf.Blocks {
		if !seen[block.ID] {
			return types.NewValidationErrorf(types.InvalidGraph, "block %s is not reachable from the starter", block.ID)
		}
	}
	return nil
}
