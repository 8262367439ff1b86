package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/blockflow/types"
)

func TestBuilderRegistersStarter(t *testing.T) {
	b := NewBuilder("wf", "desc")
	starter := b.GetStarterBlock()
	assert.Equal(t, DefaultStarterID, starter.ID)
	assert.Equal(t, types.BlockStarter, starter.Type)

	wf, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, "wf", wf.Name)
	assert.Equal(t, "desc", wf.Description)
	assert.Len(t, wf.Blocks, 1)
	assert.Nil(t, Validate(wf))
}

func TestBuilderDuplicateBlock(t *testing.T) {
	b := NewBuilder("wf", "")
	assert.Nil(t, b.AddBlock(types.NewFunctionBlock("f", "F", "1")))

	err := b.AddBlock(types.NewFunctionBlock("f", "F2", "2"))
	assert.True(t, types.IsValidationError(err, types.DuplicateBlockID))

	err = b.AddBlock(types.NewStarterBlock("another"))
	assert.True(t, types.IsValidationError(err, types.InvalidGraph))
}

func TestBuilderUnknownBlock(t *testing.T) {
	b := NewBuilder("wf", "")
	assert.Nil(t, b.AddBlock(types.NewFunctionBlock("f", "F", "1")))

	assert.True(t, types.IsValidationError(b.Connect("missing", "f"), types.UnknownBlock))
	assert.True(t, types.IsValidationError(b.Connect(DefaultStarterID, "missing"), types.UnknownBlock))
	assert.Nil(t, b.Connect(DefaultStarterID, "f"))

	err := b.AddLoop(&types.LoopConfig{ID: "l", Nodes: []string{"f", "ghost"}})
	assert.True(t, types.IsValidationError(err, types.UnknownBlock))
}

func TestBuilderSnapshotIsImmutable(t *testing.T) {
	b := NewBuilder("wf", "")
	f := types.NewFunctionBlock("f", "F", `{"v": 1}`)
	assert.Nil(t, b.AddBlock(f))
	assert.Nil(t, b.Connect(DefaultStarterID, "f", WithSourceHandle("out")))

	wf, err := b.Build()
	assert.Nil(t, err)

	f.Data.Set("code", "2")
	assert.Nil(t, b.AddBlock(types.NewFunctionBlock("g", "G", "3")))

	assert.Len(t, wf.Blocks, 2)
	code, _ := wf.Block("f").Data.GetString("code")
	assert.Equal(t, `{"v": 1}`, code)
	assert.Equal(t, "out", wf.Connections[0].SourceHandle)
}

func TestValidateHandBuiltGraphs(t *testing.T) {
	noStarter := &types.Workflow{
		Name:   "broken",
		Blocks: []*types.Block{types.NewFunctionBlock("f", "F", "1")},
	}
	assert.True(t, types.IsValidationError(Validate(noStarter), types.NoStarterBlock))

	undeclaredCycle := &types.Workflow{
		Name: "cycle",
		Blocks: []*types.Block{
			types.NewStarterBlock("s"),
			types.NewFunctionBlock("a", "A", "1"),
			types.NewFunctionBlock("b", "B", "1"),
		},
		Connections: []*types.Connection{
			{Source: "s", Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	assert.True(t, types.IsValidationError(Validate(undeclaredCycle), types.InvalidGraph))

	declared := undeclaredCycle.Clone()
	declared.Loops = map[string]*types.LoopConfig{"l": {ID: "l", Nodes: []string{"a", "b"}}}
	assert.Nil(t, Validate(declared))

	unreachable := &types.Workflow{
		Name: "island",
		Blocks: []*types.Block{
			types.NewStarterBlock("s"),
			types.NewFunctionBlock("a", "A", "1"),
		},
	}
	assert.True(t, types.IsValidationError(Validate(unreachable), types.InvalidGraph))

	sameHandle := &types.Workflow{
		Name: "handles",
		Blocks: []*types.Block{
			types.NewStarterBlock("s"),
			types.NewConditionBlock("c", "C", types.Condition{ID: "x", Expression: "true"}),
			types.NewFunctionBlock("a", "A", "1"),
			types.NewFunctionBlock("b", "B", "1"),
		},
		Connections: []*types.Connection{
			{Source: "s", Target: "c"},
			{Source: "c", Target: "a", SourceHandle: types.ConditionHandle("x")},
			{Source: "c", Target: "b", SourceHandle: types.ConditionHandle("x")},
		},
	}
	assert.True(t, types.IsValidationError(Validate(sameHandle), types.InvalidGraph))

	intoStarter := &types.Workflow{
		Name: "into-starter",
		Blocks: []*types.Block{
			types.NewStarterBlock("s"),
			types.NewFunctionBlock("a", "A", "1"),
		},
		Connections: []*types.Connection{
			{Source: "s", Target: "a"},
			{Source: "a", Target: "s"},
		},
	}
	assert.True(t, types.IsValidationError(Validate(intoStarter), types.InvalidGraph))
}
