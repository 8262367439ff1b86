package types

import (
	"github.com/juju/errors"
)

type BlockType string

const (
	BlockStarter   BlockType = "starter"
	BlockAgent     BlockType = "agent"
	BlockFunction  BlockType = "function"
	BlockCondition BlockType = "condition"
	BlockRouter    BlockType = "router"
	BlockAPI       BlockType = "api"
	BlockEvaluator BlockType = "evaluator"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockStarter, BlockAgent, BlockFunction, BlockCondition,
		BlockRouter, BlockAPI, BlockEvaluator:
		return true
	}
	return false
}

const (
	conditionHandlePrefix = "condition-"
)

// ConditionHandle is the sourceHandle of the edge taken when the condition holds.
func ConditionHandle(conditionID string) string {
	return conditionHandlePrefix + conditionID
}

/**
 * Block is the typed unit of work of a workflow.
 * Data holds the type specific configuration, Outputs describes the
 * output paths the block produces (path -> leaf type or nested map).
 */
type Block struct {
	ID      string         `json:"id"`
	Type    BlockType      `json:"type"`
	Name    string         `json:"name"`
	Data    Data           `json:"data,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

type Condition struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Expression string `json:"expression"`
}

type Metric struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
}

type APIRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Body    any               `json:"body,omitempty"`
}

type AgentConfig struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Context      string  `json:"context,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	APIKey       string  `json:"apiKey,omitempty"`
}

func NewStarterBlock(id string) *Block {
	return &Block{
		ID:   id,
		Type: BlockStarter,
		Name: "Start",
		Data: Data{"startWorkflow": "manual"},
		Outputs: map[string]any{
			"response": map[string]any{"input": "any"},
		},
	}
}

/**
 * NewFunctionBlock creates a block whose output is the value of code,
 * an expression evaluated against the block input. A map literal such as
 * `{"sum": a + b}` yields a map output.
 */
func NewFunctionBlock(id, name, code string) *Block {
	return &Block{
		ID:   id,
		Type: BlockFunction,
		Name: name,
		Data: Data{"code": code},
		Outputs: map[string]any{
			"response": map[string]any{"result": "any", "stdout": "string"},
		},
	}
}

func NewConditionBlock(id, name string, conditions ...Condition) *Block {
	return &Block{
		ID:   id,
		Type: BlockCondition,
		Name: name,
		Data: Data{"conditions": conditions},
		Outputs: map[string]any{
			"response": map[string]any{
				"content":           "string",
				"conditionResult":   "boolean",
				"selectedPath":      map[string]any{"blockId": "string", "blockType": "string", "blockTitle": "string"},
				"selectedCondition": "string",
			},
		},
	}
}

// NewRouterBlock routes to the edge whose handle or target matches the selector value.
func NewRouterBlock(id, name, selector string) *Block {
	return &Block{
		ID:   id,
		Type: BlockRouter,
		Name: name,
		Data: Data{"selector": selector},
		Outputs: map[string]any{
			"response": map[string]any{"content": "string", "selectedPath": map[string]any{"blockId": "string"}},
		},
	}
}

func NewAPIBlock(id, name string, req APIRequest) *Block {
	return &Block{
		ID:   id,
		Type: BlockAPI,
		Name: name,
		Data: Data{
			"url":     req.URL,
			"method":  req.Method,
			"headers": req.Headers,
			"params":  req.Params,
			"body":    req.Body,
		},
		Outputs: map[string]any{
			"response": map[string]any{"data": "any", "status": "number", "headers": "json"},
		},
	}
}

func NewAgentBlock(id, name string, cfg AgentConfig) *Block {
	return &Block{
		ID:   id,
		Type: BlockAgent,
		Name: name,
		Data: Data{
			"model":        cfg.Model,
			"systemPrompt": cfg.SystemPrompt,
			"context":      cfg.Context,
			"temperature":  cfg.Temperature,
			"apiKey":       cfg.APIKey,
		},
		Outputs: map[string]any{
			"response": map[string]any{"content": "string", "model": "string", "tokens": "any"},
		},
	}
}

func NewEvaluatorBlock(id, name string, metrics ...Metric) *Block {
	return &Block{
		ID:   id,
		Type: BlockEvaluator,
		Name: name,
		Data: Data{"metrics": metrics},
		Outputs: map[string]any{
			"response": map[string]any{"content": "string", "model": "string", "tokens": "any"},
		},
	}
}

func (b *Block) Conditions() ([]Condition, error) {
	conditions := make([]Condition, 0)
	if err := b.Data.GetStruct("conditions", &conditions); err != nil {
		return nil, errors.Annotatef(err, "block %s conditions", b.ID)
	}
	return conditions, nil
}

func (b *Block) Metrics() ([]Metric, error) {
	metrics := make([]Metric, 0)
	if err := b.Data.GetStruct("metrics", &metrics); err != nil {
		return nil, errors.Annotatef(err, "block %s metrics", b.ID)
	}
	return metrics, nil
}

func (b *Block) APIRequest() (*APIRequest, error) {
	req := &APIRequest{}
	url, _ := b.Data.GetString("url")
	if url == "" {
		return nil, errors.NotValidf("block %s api url", b.ID)
	}
	req.URL = url
	req.Method, _ = b.Data.GetString("method")
	req.Headers, _ = b.Data.GetStringMapString("headers")
	req.Params, _ = b.Data.GetStringMapString("params")
	req.Body, _ = b.Data.Get("body")
	return req, nil
}

func (b *Block) AgentConfig() *AgentConfig {
	cfg := &AgentConfig{}
	cfg.Model, _ = b.Data.GetString("model")
	cfg.SystemPrompt, _ = b.Data.GetString("systemPrompt")
	cfg.Context, _ = b.Data.GetString("context")
	cfg.Temperature, _ = b.Data.GetFloat64("temperature")
	cfg.APIKey, _ = b.Data.GetString("apiKey")
	return cfg
}

// Clone deep-copies Data and Outputs.
func (b *Block) Clone() *Block {
	c := *b
	c.Data = deepCopyMap(b.Data)
	c.Outputs = deepCopyMap(b.Outputs)
	return &c
}

func deepCopyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}
	c := make(M, len(m))
	for k, v := range m {
		c[k] = deepCopyValue(v)
	}
	return c
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case Data:
		return deepCopyMap(val)
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		c := make([]any, len(val))
		for i := range val {
			c[i] = deepCopyValue(val[i])
		}
		return c
	case []Condition:
		return append([]Condition(nil), val...)
	case []Metric:
		return append([]Metric(nil), val...)
	case map[string]string:
		c := make(map[string]string, len(val))
		for k, s := range val {
			c[k] = s
		}
		return c
	}
	return v
}
