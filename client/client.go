package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/types"
)

const (
	WebhookSecretHeader = "X-Webhook-Secret"
)

/**
 * Client talks to a remote blockflow server. Every call is bounded by
 * ClientOptions.Timeout and is never retried internally.
 */
type Client struct {
	opts *types.ClientOptions
	http *http.Client
}

func NewClient(options ...types.ClientOption) *Client {
	opts := types.NewClientOptions()
	for _, option := range options {
		option(opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		opts: opts,
		http: httpClient,
	}
}

func (c *Client) Options() *types.ClientOptions {
	return c.opts
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// apiError builds the error of a non-2xx response, the message is the body's error field when present.
func (r *response) apiError() error {
	apiErr := &types.APIError{Status: r.status, Body: string(r.body)}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(r.body, &payload) == nil {
		apiErr.Message = payload.Error
	}
	return apiErr
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, headers map[string]string) (*response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Annotatef(err, "%s: encode request body", op)
		}
		reader = bytes.NewReader(b)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Annotatef(err, "%s: build request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.WithFields(log.Fields{"op": op, "method": method, "url": endpoint}).Debug("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewTransportError(op, err, isTimeout(ctx, err))
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewTransportError(op, err, isTimeout(ctx, err))
	}
	return &response{status: resp.StatusCode, body: b}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

/**
 * Execute runs a saved workflow remotely. A non-2xx response that still
 * carries output or logs is a failed execution and comes back as a
 * result with Success false, anything else non-2xx is an *APIError.
 */
func (c *Client) Execute(ctx context.Context, workflowID string, input types.Data) (*types.ExecutionResult, error) {
	if workflowID == "" {
		return nil, errors.BadRequestf("empty workflow id")
	}
	if input == nil {
		input = types.Data{}
	}

	resp, err := c.do(ctx, "execute", http.MethodPost, c.endpoint("workflow", workflowID, "execute"), input, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if resp.ok() {
		result := &types.ExecutionResult{}
		if err := json.Unmarshal(resp.body, result); err != nil {
			return nil, errors.Annotatef(err, "malformed execution response")
		}
		if result.WorkflowID == "" {
			result.WorkflowID = workflowID
		}
		return result, nil
	}

	result, partial := partialResult(resp)
	if !partial {
		return nil, resp.apiError()
	}
	if result.WorkflowID == "" {
		result.WorkflowID = workflowID
	}
	log.WithFields(log.Fields{
		"workflowId": workflowID,
		"status":     resp.status,
	}).Warnf("execution failed remotely: %s", result.Error)
	return result, nil
}

func partialResult(resp *response) (*types.ExecutionResult, bool) {
	var probe map[string]json.RawMessage
	if json.Unmarshal(resp.body, &probe) != nil {
		return nil, false
	}
	_, hasOutput := probe["output"]
	_, hasLogs := probe["logs"]
	if !hasOutput && !hasLogs {
		return nil, false
	}

	result := &types.ExecutionResult{}
	if json.Unmarshal(resp.body, result) != nil {
		return nil, false
	}
	result.Success = false
	if result.Error == "" {
		result.Error = fmt.Sprintf("execution failed with status %d", resp.status)
	}
	return result, true
}

/**
 * ExecuteWorkflow saves wf and then executes the saved copy, exactly one
 * save and one execute. A failed save aborts before anything runs.
 * wf itself is left untouched, the server assigned id is on the result.
 */
func (c *Client) ExecuteWorkflow(ctx context.Context, wf *types.Workflow, input types.Data) (*types.ExecutionResult, error) {
	if wf == nil {
		return nil, errors.BadRequestf("nil workflow")
	}
	saved, err := c.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to save workflow %q", wf.Name)
	}
	return c.Execute(ctx, saved.ID, input)
}

type workflowEnvelope struct {
	Workflow *types.WorkflowDocument `json:"workflow"`
}

// SaveWorkflow creates wf when it has no id and updates it in place otherwise.
func (c *Client) SaveWorkflow(ctx context.Context, wf *types.Workflow) (*types.Workflow, error) {
	if wf == nil {
		return nil, errors.BadRequestf("nil workflow")
	}

	method, endpoint := http.MethodPost, c.endpoint("workflows")
	if wf.ID != "" {
		method, endpoint = http.MethodPut, c.endpoint("workflow", wf.ID)
	}

	resp, err := c.do(ctx, "save", method, endpoint, wf.Document(), nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !resp.ok() {
		return nil, resp.apiError()
	}

	saved, err := decodeWorkflow(resp.body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.WithFields(log.Fields{"workflowId": saved.ID, "method": method}).Info("workflow saved")
	return saved, nil
}

func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	resp, err := c.do(ctx, "get", http.MethodGet, c.endpoint("workflow", workflowID), nil, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.status == http.StatusNotFound {
		return nil, errors.NotFoundf("workflow %s", workflowID)
	}
	if !resp.ok() {
		return nil, resp.apiError()
	}
	return decodeWorkflow(resp.body)
}

func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string) error {
	resp, err := c.do(ctx, "delete", http.MethodDelete, c.endpoint("workflow", workflowID), nil, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.status == http.StatusNotFound {
		return errors.NotFoundf("workflow %s", workflowID)
	}
	if !resp.ok() {
		return resp.apiError()
	}
	return nil
}

func decodeWorkflow(body []byte) (*types.Workflow, error) {
	envelope := &workflowEnvelope{}
	if err := json.Unmarshal(body, envelope); err != nil {
		return nil, errors.Annotatef(err, "malformed workflow response")
	}
	if envelope.Workflow == nil || envelope.Workflow.ID == "" {
		return nil, errors.NotValidf("workflow response without id")
	}
	return envelope.Workflow.Workflow(), nil
}

func (c *Client) GetUsage(ctx context.Context) (*types.UsageSnapshot, error) {
	resp, err := c.do(ctx, "usage", http.MethodGet, c.endpoint("user", "usage"), nil, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !resp.ok() {
		return nil, resp.apiError()
	}

	usage := &types.UsageSnapshot{}
	if err := json.Unmarshal(resp.body, usage); err != nil {
		return nil, errors.Annotatef(err, "malformed usage response")
	}
	return usage, nil
}

// RecordRunStats reports that a batch finished runs executions of workflowID.
func (c *Client) RecordRunStats(ctx context.Context, workflowID string, runs int) error {
	body := map[string]int{"runs": runs}
	resp, err := c.do(ctx, "stats", http.MethodPost, c.endpoint("workflow", workflowID, "stats"), body, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if !resp.ok() {
		return resp.apiError()
	}
	return nil
}

// TriggerWebhook posts payload to a registered trigger path, any non-2xx is an error.
func (c *Client) TriggerWebhook(ctx context.Context, path, secret string, payload types.Data) error {
	headers := map[string]string{}
	if secret != "" {
		headers[WebhookSecretHeader] = secret
	}
	resp, err := c.do(ctx, "trigger", http.MethodPost, c.endpoint("webhooks", "trigger", path), payload, headers)
	if err != nil {
		return errors.Trace(err)
	}
	if !resp.ok() {
		return resp.apiError()
	}
	return nil
}
