package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/runtime"
	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

func invalidWorkflow(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid workflow data: " + err.Error()})
}

// parseWorkflow decodes and validates the body of a save request.
func parseWorkflow(c *fiber.Ctx) (*types.WorkflowDocument, error) {
	doc := &types.WorkflowDocument{}
	if err := json.Unmarshal(c.Body(), doc); err != nil {
		return nil, errors.NotValidf("body: %v", err)
	}
	if doc.Name == "" {
		return nil, errors.NotValidf("empty name")
	}
	if err := runtime.Validate(doc.Workflow()); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Server) loadWorkflow(ctx context.Context, id string) (*types.WorkflowDocument, error) {
	doc := &types.WorkflowDocument{}
	if err := store.GetJSON(ctx, s.store, WorkflowPath, id, doc); err != nil {
		return nil, errors.Trace(err)
	}
	return doc, nil
}

func (s *Server) createWorkflow(c *fiber.Ctx) error {
	doc, err := parseWorkflow(c)
	if err != nil {
		return invalidWorkflow(c, err)
	}
	doc.ID = uuid.NewString()
	if err := store.SetJSON(c.UserContext(), s.store, WorkflowPath, doc.ID, doc); err != nil {
		return errors.Trace(err)
	}
	log.WithField("workflowId", doc.ID).Infof("workflow %q created", doc.Name)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"workflow": doc})
}

func (s *Server) updateWorkflow(c *fiber.Ctx) error {
	doc, err := parseWorkflow(c)
	if err != nil {
		return invalidWorkflow(c, err)
	}
	doc.ID = c.Params("id")
	if err := store.SetJSON(c.UserContext(), s.store, WorkflowPath, doc.ID, doc); err != nil {
		return errors.Trace(err)
	}
	return c.JSON(fiber.Map{"workflow": doc})
}

func (s *Server) getWorkflow(c *fiber.Ctx) error {
	doc, err := s.loadWorkflow(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}
	return c.JSON(fiber.Map{"workflow": doc})
}

func (s *Server) deleteWorkflow(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.loadWorkflow(c.UserContext(), id); err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}
	if err := s.store.Remove(c.UserContext(), WorkflowPath, id); err != nil {
		return errors.Trace(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func parseInput(c *fiber.Ctx) (types.Data, error) {
	input := types.Data{}
	if len(c.Body()) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(c.Body(), &input); err != nil {
		return nil, errors.BadRequestf("input must be a JSON object: %v", err)
	}
	if input == nil {
		input = types.Data{}
	}
	return input, nil
}

/**
 * executeWorkflow answers 200 with the result of a successful execution
 * and 500 with the partial result of a failed one, so that callers can
 * still read the trace. Once the usage limit is reached it answers 429.
 */
func (s *Server) executeWorkflow(c *fiber.Ctx) error {
	doc, err := s.loadWorkflow(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}
	input, err := parseInput(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := s.run(c.UserContext(), doc.Workflow(), input)
	if err != nil {
		return s.runError(c, err)
	}
	if !result.Success {
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}

func (s *Server) runError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errUsageExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Usage limit exceeded"})
	case types.IsValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return errors.Trace(err)
}

// run executes wf locally and accounts the execution against the usage.
func (s *Server) run(ctx context.Context, wf *types.Workflow, input types.Data) (*types.ExecutionResult, error) {
	if err := s.reserveExecution(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := s.engine.Execute(ctx, wf, input)
	s.metrics.RecordExecution("local", result != nil && result.Success, err, time.Since(started))
	if err != nil {
		s.releaseExecution(ctx)
		return nil, errors.Trace(err)
	}
	return result, nil
}

type workflowStats struct {
	WorkflowID string    `json:"workflowId"`
	TotalRuns  int       `json:"totalRuns"`
	Batches    int       `json:"batches"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s *Server) recordStats(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.loadWorkflow(c.UserContext(), id); err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}

	var body struct {
		Runs int `json:"runs"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil || body.Runs <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "runs must be a positive number"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := c.UserContext()
	stats := &workflowStats{WorkflowID: id}
	if err := store.GetJSON(ctx, s.store, StatsPath, id, stats); err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	stats.TotalRuns += body.Runs
	stats.Batches++
	stats.UpdatedAt = time.Now()
	if err := store.SetJSON(ctx, s.store, StatsPath, id, stats); err != nil {
		return errors.Trace(err)
	}
	return c.JSON(stats)
}

func (s *Server) getExecution(c *fiber.Ctx) error {
	result, err := s.engine.GetExecution(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Execution not found"})
		}
		return errors.Trace(err)
	}
	return c.JSON(result)
}
