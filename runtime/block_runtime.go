package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
)

/**
 * invokeBlock runs one block invocation under the block deadline and
 * returns the trace entry describing it. A panicking handler is reported
 * as a failed invocation.
 */
func (e *Engine) invokeBlock(ec *execContext, block *types.Block, input types.Data) (output types.Data, entry *types.LogEntry, retErr error) {
	entry = &types.LogEntry{
		BlockID:   block.ID,
		BlockName: block.Name,
		BlockType: block.Type,
		StartedAt: time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			retErr = errors.Errorf("panic on %s: %v", block.ID, r)
			output = nil
		}
		entry.EndedAt = time.Now()
		entry.DurationMs = entry.EndedAt.Sub(entry.StartedAt).Milliseconds()
		entry.Success = retErr == nil
		if retErr != nil {
			entry.Error = retErr.Error()
		} else {
			entry.Output = output
		}
	}()

	handler := e.handlerFor(block)
	if handler == nil {
		return nil, entry, errors.NotSupportedf("block %s type %s", block.ID, block.Type)
	}

	ctx, cancel := context.WithTimeout(ec.Context, e.opts.BlockTimeout)
	defer cancel()
	bc := ec.forBlock(ctx, block)

	bc.Logger().Debugf("running block %s", block.Name)
	output, err := handler(bc, block, input)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.Annotatef(err, "block timed out after %v", e.opts.BlockTimeout)
		}
		return nil, entry, err
	}
	if output == nil {
		output = types.Data{}
	}
	return output, entry, nil
}

func blockFailure(block *types.Block, err error) string {
	name := block.Name
	if name == "" {
		name = block.ID
	}
	return fmt.Sprintf("Block %s (%s) failed: %v", name, block.ID, err)
}
