package server

import (
	"crypto/subtle"
	"encoding/json"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/client"
	"github.com/warriorguo/blockflow/store"
)

var webhookPathPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type Webhook struct {
	Path       string    `json:"path"`
	WorkflowID string    `json:"workflowId"`
	Secret     string    `json:"secret,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) registerWebhook(c *fiber.Ctx) error {
	hook := &Webhook{}
	if err := json.Unmarshal(c.Body(), hook); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid webhook data: " + err.Error()})
	}
	if !webhookPathPattern.MatchString(hook.Path) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid webhook path"})
	}

	ctx := c.UserContext()
	if _, err := s.loadWorkflow(ctx, hook.WorkflowID); err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := &Webhook{}
	err := store.GetJSON(ctx, s.store, WebhookPath, hook.Path, existing)
	switch {
	case err == nil && existing.WorkflowID != hook.WorkflowID:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Webhook path already in use"})
	case err != nil && !errors.Is(err, errors.NotFound):
		return errors.Trace(err)
	}

	hook.CreatedAt = time.Now()
	if err := store.SetJSON(ctx, s.store, WebhookPath, hook.Path, hook); err != nil {
		return errors.Trace(err)
	}
	log.WithFields(log.Fields{"path": hook.Path, "workflowId": hook.WorkflowID}).Info("webhook registered")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"webhook": hook})
}

/**
 * triggerWebhook runs the workflow behind path with the request body as
 * input. The secret header is compared when the webhook has a secret.
 */
func (s *Server) triggerWebhook(c *fiber.Ctx) error {
	path := c.Params("path")
	ctx := c.UserContext()

	hook := &Webhook{}
	if err := store.GetJSON(ctx, s.store, WebhookPath, path, hook); err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "webhook not found"})
		}
		return errors.Trace(err)
	}
	if hook.Secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(client.WebhookSecretHeader)), []byte(hook.Secret)) != 1 {
		log.WithField("path", path).Warn("webhook secret mismatch")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid secret"})
	}

	input, err := parseInput(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	input["triggerType"] = "webhook"
	input["webhookPath"] = path

	doc, err := s.loadWorkflow(ctx, hook.WorkflowID)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Workflow not found"})
		}
		return errors.Trace(err)
	}

	result, err := s.run(ctx, doc.Workflow(), input)
	if err != nil {
		return s.runError(c, err)
	}
	if !result.Success {
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}
