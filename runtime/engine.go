package runtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

/**
 * Engine executes workflows in process. Handlers are looked up by block
 * id first, then by block type.
 */
type Engine struct {
	opts  *types.EngineOptions
	store store.Store

	eval       *evaluator
	httpClient *http.Client

	mu            sync.RWMutex
	typeHandlers  map[types.BlockType]types.BlockHandler
	blockHandlers map[string]types.BlockHandler
	agent         AgentProvider
}

func NewEngine(store store.Store, opts *types.EngineOptions) *Engine {
	if opts == nil {
		opts = types.NewEngineOptions()
	}
	e := &Engine{
		opts:          opts,
		store:         store,
		eval:          newEvaluator(),
		httpClient:    &http.Client{},
		blockHandlers: make(map[string]types.BlockHandler),
	}
	e.typeHandlers = e.defaultHandlers()
	return e
}

func (e *Engine) Options() *types.EngineOptions {
	return e.opts
}

// Store is the backend holding persisted executions, nil when there is none.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) RegisterHandler(typ types.BlockType, handler types.BlockHandler) error {
	if handler == nil {
		return errors.BadRequestf("handler of type %s is nil", typ)
	}
	if !typ.Valid() {
		return errors.NotValidf("block type %q", typ)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typeHandlers[typ] = handler
	return nil
}

func (e *Engine) RegisterBlockHandler(blockID string, handler types.BlockHandler) error {
	if handler == nil {
		return errors.BadRequestf("handler of block %s is nil", blockID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.blockHandlers[blockID]; exists {
		return errors.AlreadyExistsf("handler of block %s", blockID)
	}
	e.blockHandlers[blockID] = handler
	return nil
}

func (e *Engine) SetAgentProvider(provider AgentProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agent = provider
}

func (e *Engine) SetHTTPClient(c *http.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.httpClient = c
}

func (e *Engine) handlerFor(block *types.Block) types.BlockHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if h, exists := e.blockHandlers[block.ID]; exists {
		return h
	}
	return e.typeHandlers[block.Type]
}

/**
 * Execute validates wf and runs it with input as the starter output.
 * Structural problems are returned as errors. A block failure is not an
 * error: the result reports success false with the trace up to and
 * including the failed invocation.
 */
func (e *Engine) Execute(ctx context.Context, wf *types.Workflow, input types.Data) (*types.ExecutionResult, error) {
	g, err := buildGraph(wf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if input == nil {
		input = types.Data{}
	}

	result := &types.ExecutionResult{
		ExecutionID: uuid.NewString(),
		WorkflowID:  wf.ID,
	}
	result.Metadata.StartTime = time.Now()

	ec := newExecContext(ctx, result.ExecutionID, wf.ID)
	ec.Logger().Infof("executing workflow %q", wf.Name)

	r := newResolver(e, g, ec)
	failure := r.run(input)

	result.Metadata.EndTime = time.Now()
	result.Metadata.Duration = result.Metadata.EndTime.Sub(result.Metadata.StartTime).Milliseconds()
	result.Logs = r.logs
	result.Output.Response = responseOf(r.lastOutput)
	result.Success = failure == ""
	result.Error = failure

	if failure != "" {
		ec.Logger().Warnf("execution failed after %d invocations: %s", len(r.logs), failure)
	} else {
		ec.Logger().Infof("execution completed with %d invocations in %dms", len(r.logs), result.Metadata.Duration)
	}

	if e.opts.PersistResults && e.store != nil {
		if err := e.saveExecution(context.Background(), wf, result); err != nil {
			log.Errorf("%s failed to save execution: %v", result.ExecutionID, err)
		}
	}
	return result, nil
}
