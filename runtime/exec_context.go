package runtime

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/types"
)

var (
	_ types.Context = &execContext{}
)

type execContext struct {
	context.Context

	executionID string
	workflowID  string

	logger *log.Entry
}

func newExecContext(ctx context.Context, executionID, workflowID string) *execContext {
	return &execContext{
		Context:     ctx,
		executionID: executionID,
		workflowID:  workflowID,
		logger: log.WithFields(log.Fields{
			"execution": executionID,
			"workflow":  workflowID,
		}),
	}
}

func (e *execContext) GetExecutionID() string {
	return e.executionID
}

func (e *execContext) GetWorkflowID() string {
	return e.workflowID
}

func (e *execContext) Logger() *log.Entry {
	return e.logger
}

// forBlock derives the context handed to a single block invocation.
func (e *execContext) forBlock(ctx context.Context, block *types.Block) *execContext {
	return &execContext{
		Context:     ctx,
		executionID: e.executionID,
		workflowID:  e.workflowID,
		logger: e.logger.WithFields(log.Fields{
			"block":     block.ID,
			"blockType": block.Type,
		}),
	}
}
