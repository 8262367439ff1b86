package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
)

// RenderWorkflow renders the workflow graph in DOT format.
func (e *Engine) RenderWorkflow(wf *types.Workflow) (string, error) {
	return RenderDOT(wf, nil)
}

// RenderExecution renders a stored execution, blocks are colored by their last invocation.
func (e *Engine) RenderExecution(ctx context.Context, executionID string) (string, error) {
	record, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return RenderDOT(record.Workflow, record.Result)
}

func RenderDOT(wf *types.Workflow, result *types.ExecutionResult) (string, error) {
	if wf == nil {
		return "", errors.NotValidf("nil workflow")
	}
	r := newGraphRenderer()
	return r.generateDOT(wf, result)
}

func newGraphRenderer() *graphRenderer {
	return &graphRenderer{nil, &strings.Builder{}}
}

type graphRenderer struct {
	records map[string]*types.LogEntry
	sb      *strings.Builder
}

func (d *graphRenderer) setRecords(result *types.ExecutionResult) {
	d.records = make(map[string]*types.LogEntry)
	if result == nil {
		return
	}
	for _, entry := range result.Logs {
		d.records[entry.BlockID] = entry
	}
}

func (d *graphRenderer) generateDOT(wf *types.Workflow, result *types.ExecutionResult) (string, error) {
	d.setRecords(result)

	backEdges := make(map[int]bool)
	if g, err := buildGraph(wf); err == nil {
		for idx := range g.backEdges {
			backEdges[idx] = true
		}
	}

	d.write("digraph D {")
	for _, block := range wf.Blocks {
		d.drawBlock(block)
	}
	for idx, conn := range wf.Connections {
		d.drawConnection(conn, backEdges[idx])
	}
	d.write("label=%s", quoteString(wf.Name))
	d.write("}")
	return d.sb.String(), nil
}

func packToComment(r *types.LogEntry) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *graphRenderer) calcAttr(blockID string) string {
	record, exists := d.records[blockID]
	if !exists {
		return ""
	}

	color := ""
	switch {
	case record.EndedAt.IsZero():
		color = "yellow"
	case !record.Success:
		color = "red"
	default:
		color = "green"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(record))
}

func (d *graphRenderer) drawBlock(block *types.Block) {
	shape := "record"
	switch block.Type {
	case types.BlockStarter:
		shape = "ellipse"
	case types.BlockCondition, types.BlockRouter:
		shape = "diamond"
	}
	label := block.Name
	if label == "" {
		label = block.ID
	}
	d.write("%s [label=%s shape=\"%s\"%s]", idString(block.ID), quoteString(label), shape, d.calcAttr(block.ID))
}

func (d *graphRenderer) drawConnection(conn *types.Connection, backEdge bool) {
	attrs := make([]string, 0, 2)
	if conn.SourceHandle != "" {
		attrs = append(attrs, "label="+quoteString(conn.SourceHandle))
	}
	if backEdge {
		attrs = append(attrs, "style=\"dashed\"")
	}
	if len(attrs) == 0 {
		d.write("%s -> %s", idString(conn.Source), idString(conn.Target))
		return
	}
	d.write("%s -> %s [%s]", idString(conn.Source), idString(conn.Target), strings.Join(attrs, " "))
}

func (d *graphRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
