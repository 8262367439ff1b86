package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

const (
	errUsageExceeded = errors.ConstError("usage limit exceeded")
)

type usageRecord struct {
	Executions int `json:"executions"`
}

func (s *Server) loadUsage(ctx context.Context) (*usageRecord, error) {
	usage := &usageRecord{}
	if err := store.GetJSON(ctx, s.store, UsagePath, usageKey, usage); err != nil && !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}
	return usage, nil
}

// reserveExecution counts one more execution, or fails once the limit is reached.
func (s *Server) reserveExecution(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, err := s.loadUsage(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if s.opts.UsageLimit > 0 && usage.Executions >= s.opts.UsageLimit {
		return errUsageExceeded
	}
	usage.Executions++
	return errors.Trace(store.SetJSON(ctx, s.store, UsagePath, usageKey, usage))
}

// releaseExecution gives back a reservation of an execution that never ran.
func (s *Server) releaseExecution(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, err := s.loadUsage(ctx)
	if err != nil || usage.Executions == 0 {
		return
	}
	usage.Executions--
	_ = store.SetJSON(ctx, s.store, UsagePath, usageKey, usage)
}

func (s *Server) snapshot(ctx context.Context) (*types.UsageSnapshot, error) {
	s.mu.Lock()
	usage, err := s.loadUsage(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Trace(err)
	}

	snapshot := &types.UsageSnapshot{
		CurrentUsage: float64(usage.Executions),
		Limit:        float64(s.opts.UsageLimit),
	}
	if s.opts.UsageLimit > 0 {
		snapshot.PercentUsed = float64(usage.Executions) * 100 / float64(s.opts.UsageLimit)
		snapshot.IsExceeded = usage.Executions >= s.opts.UsageLimit
		snapshot.IsWarning = snapshot.PercentUsed >= s.opts.WarningPercent
	}
	return snapshot, nil
}

func (s *Server) getUsage(c *fiber.Ctx) error {
	snapshot, err := s.snapshot(c.UserContext())
	if err != nil {
		return errors.Trace(err)
	}
	return c.JSON(snapshot)
}
