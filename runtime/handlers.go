package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"

	"github.com/warriorguo/blockflow/types"
)

const (
	// keys the routing blocks add to their output
	keyConditionResult   = "conditionResult"
	keySelectedCondition = "selectedCondition"
	keySelectedRoute     = "selectedRoute"
	keySelectedPath      = "selectedPath"
)

/**
 * AgentProvider performs the model call of an agent block. The engine
 * ships without one, agent blocks fail until a provider is set.
 */
type AgentProvider interface {
	Complete(ctx context.Context, cfg *types.AgentConfig, input types.Data) (types.Data, error)
}

func (e *Engine) defaultHandlers() map[types.BlockType]types.BlockHandler {
	return map[types.BlockType]types.BlockHandler{
		types.BlockStarter:   e.runStarter,
		types.BlockFunction:  e.runFunction,
		types.BlockCondition: e.runCondition,
		types.BlockRouter:    e.runRouter,
		types.BlockEvaluator: e.runEvaluator,
		types.BlockAPI:       e.runAPI,
		types.BlockAgent:     e.runAgent,
	}
}

func (e *Engine) runStarter(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	return input.Clone(), nil
}

/**
 * runFunction evaluates the block code. A map value becomes the output
 * as is, anything else is wrapped as {"result": value}.
 */
func (e *Engine) runFunction(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	code, _ := block.Data.GetString("code")
	out, err := e.eval.eval(code, input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if m, ok := out.(map[string]any); ok {
		return types.Data(m), nil
	}
	if m, ok := types.ToData(out); ok {
		return m, nil
	}
	return types.Data{"result": out}, nil
}

// runCondition selects the first condition that holds, the input is passed through.
func (e *Engine) runCondition(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	conditions, err := block.Conditions()
	if err != nil {
		return nil, errors.Trace(err)
	}
	output := input.Clone()
	output.Set(keyConditionResult, false)
	for _, cond := range conditions {
		ok, err := e.eval.evalBool(cond.Expression, input)
		if err != nil {
			return nil, errors.Annotatef(err, "condition %s", cond.ID)
		}
		if ok {
			output.Set(keyConditionResult, true)
			output.Set(keySelectedCondition, cond.ID)
			return output, nil
		}
	}
	ctx.Logger().Debugf("no condition of %s holds", block.ID)
	return output, nil
}

func (e *Engine) runRouter(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	selector, _ := block.Data.GetString("selector")
	out, err := e.eval.eval(selector, input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	output := input.Clone()
	output.Set(keySelectedRoute, cast.ToString(out))
	return output, nil
}

func (e *Engine) runEvaluator(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	metrics, err := block.Metrics()
	if err != nil {
		return nil, errors.Trace(err)
	}
	output := types.Data{}
	for _, metric := range metrics {
		value, err := e.eval.evalFloat(metric.Expression, input)
		if err != nil {
			return nil, errors.Annotatef(err, "metric %s", metric.Name)
		}
		output.Set(metric.Name, value)
	}
	return output, nil
}

func (e *Engine) runAgent(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	e.mu.RLock()
	agent := e.agent
	e.mu.RUnlock()
	if agent == nil {
		return nil, errors.NotImplementedf("agent provider for block %s", block.ID)
	}
	output, err := agent.Complete(ctx, block.AgentConfig(), input)
	return output, errors.Trace(err)
}

/**
 * runAPI performs the request described by the block. Non-2xx responses
 * fail the block, the response body is decoded as JSON when possible.
 */
func (e *Engine) runAPI(ctx types.Context, block *types.Block, input types.Data) (types.Data, error) {
	call, err := block.APIRequest()
	if err != nil {
		return nil, errors.Trace(err)
	}
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(call.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "block %s url", block.ID)
	}
	if len(call.Params) > 0 {
		query := target.Query()
		for k, v := range call.Params {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		b, err := json.Marshal(call.Body)
		if err != nil {
			return nil, errors.Annotatef(err, "block %s body", block.ID)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	e.mu.RLock()
	client := e.httpClient
	e.mu.RUnlock()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "%s %s", method, call.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", call.URL)
	}
	var data any = string(raw)
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		data = decoded
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("%s %s responded %d: %s", method, call.URL, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return types.Data{
		"data":    data,
		"status":  resp.StatusCode,
		"headers": headers,
	}, nil
}
