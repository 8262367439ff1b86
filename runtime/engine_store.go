package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/types"
	"github.com/warriorguo/blockflow/utils"
)

const (
	ExecutionPath = "/execution/"
)

// executionRecord keeps the executed definition next to its result so it can be rendered later.
type executionRecord struct {
	Workflow *types.Workflow        `json:"workflow"`
	Result   *types.ExecutionResult `json:"result"`
}

func (e *Engine) saveExecution(ctx context.Context, wf *types.Workflow, result *types.ExecutionResult) error {
	b, err := utils.Serialize(&executionRecord{Workflow: wf, Result: result})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.store.Set(ctx, ExecutionPath, result.ExecutionID, b))
}

func (e *Engine) loadExecution(ctx context.Context, executionID string) (*executionRecord, error) {
	if e.store == nil {
		return nil, errors.NotSupportedf("engine without store")
	}
	b, err := e.store.Get(ctx, ExecutionPath, executionID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("execution %s", executionID)
	}
	record := &executionRecord{}
	if err := utils.Unserialize(b, record); err != nil {
		return nil, errors.Annotatef(err, "execution %s", executionID)
	}
	return record, nil
}

func (e *Engine) GetExecution(ctx context.Context, executionID string) (*types.ExecutionResult, error) {
	record, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return record.Result, nil
}

func (e *Engine) RemoveExecution(ctx context.Context, executionID string) error {
	if e.store == nil {
		return errors.NotSupportedf("engine without store")
	}
	return errors.Trace(e.store.Remove(ctx, ExecutionPath, executionID))
}

// ListExecutions visits the stored execution ids until iterator returns false.
func (e *Engine) ListExecutions(ctx context.Context, iterator func(executionID string) bool) error {
	if e.store == nil {
		return errors.NotSupportedf("engine without store")
	}
	err := e.store.List(ctx, ExecutionPath, func(key string) bool {
		if key == "" {
			log.Warnf("skip empty execution key")
			return true
		}
		return iterator(key)
	})
	return errors.Trace(err)
}
