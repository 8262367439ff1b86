package types

import (
	"context"

	log "github.com/sirupsen/logrus"
)

type Context interface {
	context.Context

	GetExecutionID() string
	GetWorkflowID() string
	/**
	 * Logger returns an entry already carrying the execution and
	 * the current block fields.
	 */
	Logger() *log.Entry
}

/**
 * BlockHandler runs a single block invocation. The input is the merged
 * output of the upstream blocks, the returned Data becomes the block output.
 */
type BlockHandler func(ctx Context, block *Block, input Data) (Data, error)
