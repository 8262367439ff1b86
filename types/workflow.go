package types

type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

/**
 * LoopConfig declares a loop. Nodes[0] is the loop head, a connection
 * from a member back to the head is the loop back-edge. Iterations caps
 * the number of back-edge traversals, 0 means the engine default.
 */
type LoopConfig struct {
	ID         string   `json:"id"`
	Nodes      []string `json:"nodes"`
	Iterations int      `json:"iterations,omitempty"`
}

func (l *LoopConfig) Head() string {
	if len(l.Nodes) == 0 {
		return ""
	}
	return l.Nodes[0]
}

func (l *LoopConfig) Contains(blockID string) bool {
	for _, n := range l.Nodes {
		if n == blockID {
			return true
		}
	}
	return false
}

type Workflow struct {
	ID          string                 `json:"id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Blocks      []*Block               `json:"blocks"`
	Connections []*Connection          `json:"connections"`
	Loops       map[string]*LoopConfig `json:"loops,omitempty"`
	Metadata    Data                   `json:"metadata,omitempty"`
}

func (w *Workflow) Block(id string) *Block {
	for _, b := range w.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// StarterBlocks returns every starter, a valid workflow has exactly one.
func (w *Workflow) StarterBlocks() []*Block {
	starters := make([]*Block, 0, 1)
	for _, b := range w.Blocks {
		if b.Type == BlockStarter {
			starters = append(starters, b)
		}
	}
	return starters
}

func (w *Workflow) Clone() *Workflow {
	c := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Blocks:      make([]*Block, 0, len(w.Blocks)),
		Connections: make([]*Connection, 0, len(w.Connections)),
		Loops:       make(map[string]*LoopConfig, len(w.Loops)),
		Metadata:    deepCopyMap(w.Metadata),
	}
	for _, b := range w.Blocks {
		c.Blocks = append(c.Blocks, b.Clone())
	}
	for _, conn := range w.Connections {
		connCopy := *conn
		c.Connections = append(c.Connections, &connCopy)
	}
	for id, loop := range w.Loops {
		loopCopy := *loop
		loopCopy.Nodes = append([]string(nil), loop.Nodes...)
		c.Loops[id] = &loopCopy
	}
	return c
}

type WorkflowState struct {
	Blocks []*Block               `json:"blocks"`
	Edges  []*Connection          `json:"edges"`
	Loops  map[string]*LoopConfig `json:"loops"`
}

/**
 * WorkflowDocument is the persisted shape of a workflow used by the
 * save endpoints: the graph travels under state with edges instead of
 * connections.
 */
type WorkflowDocument struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	State       WorkflowState `json:"state"`
	Metadata    Data          `json:"metadata,omitempty"`
}

func (w *Workflow) Document() *WorkflowDocument {
	loops := w.Loops
	if loops == nil {
		loops = map[string]*LoopConfig{}
	}
	return &WorkflowDocument{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		State: WorkflowState{
			Blocks: w.Blocks,
			Edges:  w.Connections,
			Loops:  loops,
		},
		Metadata: w.Metadata,
	}
}

func (d *WorkflowDocument) Workflow() *Workflow {
	return &Workflow{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Blocks:      d.State.Blocks,
		Connections: d.State.Edges,
		Loops:       d.State.Loops,
		Metadata:    d.Metadata,
	}
}
