package types

import "time"

type LogEntry struct {
	BlockID    string    `json:"blockId"`
	BlockName  string    `json:"blockName"`
	BlockType  BlockType `json:"blockType"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Output     Data      `json:"output,omitempty"`
}

type ExecutionOutput struct {
	Response any `json:"response"`
}

type ExecutionMetadata struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	// Duration is in milliseconds.
	Duration int64 `json:"duration"`
}

/**
 * ExecutionResult is produced once per execution request. A failed
 * execution that still ran some blocks is returned with Success false
 * and the partial Logs, it is never reported as a Go error.
 */
type ExecutionResult struct {
	ExecutionID string            `json:"executionId,omitempty"`
	WorkflowID  string            `json:"workflowId,omitempty"`
	Success     bool              `json:"success"`
	Output      ExecutionOutput   `json:"output"`
	Error       string            `json:"error,omitempty"`
	Logs        []*LogEntry       `json:"logs"`
	Metadata    ExecutionMetadata `json:"metadata"`
}

// ResponseData returns the response when it is an object.
func (r *ExecutionResult) ResponseData() (Data, bool) {
	return ToData(r.Output.Response)
}

func (r *ExecutionResult) Content() Content {
	return NewContent(r.Output.Response)
}

// LogsFor returns the entries of one block in invocation order.
func (r *ExecutionResult) LogsFor(blockID string) []*LogEntry {
	entries := make([]*LogEntry, 0)
	for _, entry := range r.Logs {
		if entry.BlockID == blockID {
			entries = append(entries, entry)
		}
	}
	return entries
}

// FailedBlock returns the first entry that did not succeed.
func (r *ExecutionResult) FailedBlock() (*LogEntry, bool) {
	for _, entry := range r.Logs {
		if !entry.Success {
			return entry, true
		}
	}
	return nil, false
}

type UsageSnapshot struct {
	PercentUsed  float64 `json:"percentUsed"`
	IsWarning    bool    `json:"isWarning"`
	IsExceeded   bool    `json:"isExceeded"`
	CurrentUsage float64 `json:"currentUsage"`
	Limit        float64 `json:"limit"`
}
