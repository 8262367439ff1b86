package runtime

import (
	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
)

const (
	DefaultStarterID = "starter"
)

type ConnectOptions struct {
	SourceHandle string
}

type ConnectOption func(*ConnectOptions)

// WithSourceHandle tags the edge with the branch handle of its source block.
func WithSourceHandle(handle string) ConnectOption {
	return func(opts *ConnectOptions) {
		opts.SourceHandle = handle
	}
}

/**
 * Builder assembles a Workflow block by block. A starter block is
 * registered at construction, so a workflow built through the Builder
 * always has exactly one entry point.
 */
type Builder struct {
	name        string
	description string
	metadata    types.Data

	starter *types.Block

	blocks      []*types.Block
	blockIndex  map[string]*types.Block
	connections []*types.Connection
	loops       map[string]*types.LoopConfig
}

func NewBuilder(name, description string) *Builder {
	b := &Builder{
		name:        name,
		description: description,
		blockIndex:  make(map[string]*types.Block),
		loops:       make(map[string]*types.LoopConfig),
	}
	b.starter = types.NewStarterBlock(DefaultStarterID)
	b.blocks = append(b.blocks, b.starter)
	b.blockIndex[b.starter.ID] = b.starter
	return b
}

func (b *Builder) GetStarterBlock() *types.Block {
	return b.starter
}

func (b *Builder) SetMetadata(key string, value any) *Builder {
	b.metadata.Set(key, value)
	return b
}

func (b *Builder) AddBlock(block *types.Block) error {
	if block == nil {
		return errors.BadRequestf("block is nil")
	}
	if block.ID == "" {
		return errors.NotValidf("block without id")
	}
	if _, exists := b.blockIndex[block.ID]; exists {
		return types.NewValidationErrorf(types.DuplicateBlockID, "block %s already exists", block.ID)
	}
	if !block.Type.Valid() {
		return errors.NotValidf("block %s type %q", block.ID, block.Type)
	}
	if block.Type == types.BlockStarter {
		return types.NewValidationErrorf(types.InvalidGraph, "block %s: workflow already has a starter block", block.ID)
	}

	b.blocks = append(b.blocks, block)
	b.blockIndex[block.ID] = block
	return nil
}

func (b *Builder) Connect(sourceID, targetID string, options ...ConnectOption) error {
	if _, exists := b.blockIndex[sourceID]; !exists {
		return types.NewValidationErrorf(types.UnknownBlock, "source %s", sourceID)
	}
	if _, exists := b.blockIndex[targetID]; !exists {
		return types.NewValidationErrorf(types.UnknownBlock, "target %s", targetID)
	}

	opts := &ConnectOptions{}
	for _, opt := range options {
		opt(opts)
	}

	b.connections = append(b.connections, &types.Connection{
		Source:       sourceID,
		Target:       targetID,
		SourceHandle: opts.SourceHandle,
	})
	return nil
}

/**
 * AddLoop declares a loop. The first node is the loop head, a connection
 * from any member back to it is treated as the loop back-edge.
 */
func (b *Builder) AddLoop(loop *types.LoopConfig) error {
	if loop == nil || loop.ID == "" {
		return errors.NotValidf("loop without id")
	}
	if _, exists := b.loops[loop.ID]; exists {
		return errors.AlreadyExistsf("loop %s", loop.ID)
	}
	if len(loop.Nodes) == 0 {
		return types.NewValidationErrorf(types.InvalidGraph, "loop %s has no nodes", loop.ID)
	}
	for _, id := range loop.Nodes {
		if _, exists := b.blockIndex[id]; !exists {
			return types.NewValidationErrorf(types.UnknownBlock, "loop %s member %s", loop.ID, id)
		}
	}
	loopCopy := *loop
	loopCopy.Nodes = append([]string(nil), loop.Nodes...)
	b.loops[loop.ID] = &loopCopy
	return nil
}

// Build returns a deep copy, later builder calls do not affect it.
func (b *Builder) Build() (*types.Workflow, error) {
	wf := &types.Workflow{
		Name:        b.name,
		Description: b.description,
		Blocks:      b.blocks,
		Connections: b.connections,
		Loops:       b.loops,
		Metadata:    b.metadata,
	}
	if len(wf.StarterBlocks()) == 0 {
		return nil, types.NewValidationErrorf(types.NoStarterBlock, "workflow %q", b.name)
	}
	return wf.Clone(), nil
}
