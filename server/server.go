package server

import (
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/metrics"
	"github.com/warriorguo/blockflow/runtime"
	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/types"
)

const (
	WorkflowPath = "/workflow/"
	WebhookPath  = "/webhook/"
	StatsPath    = "/stats/"
	UsagePath    = "/usage/"

	usageKey = "executions"
)

/**
 * Server exposes the remote endpoints consumed by client.Client on top
 * of a local Engine. Workflows, webhooks, statistics and usage live in
 * the same store as the executions.
 */
type Server struct {
	opts     *types.ServerOptions
	engine   *runtime.Engine
	store    store.Store
	app      *fiber.App
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// serializes read-modify-write of usage and statistics records
	mu sync.Mutex
}

func New(engine *runtime.Engine, s store.Store, options ...types.ServerOption) *Server {
	opts := types.NewServerOptions()
	for _, option := range options {
		option(opts)
	}

	registry := prometheus.NewRegistry()
	srv := &Server{
		opts:     opts,
		engine:   engine,
		store:    s,
		registry: registry,
		metrics:  metrics.New(registry),
		app: fiber.New(fiber.Config{
			AppName:               opts.Service,
			BodyLimit:             opts.BodyLimit,
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
	}
	srv.routes()
	return srv
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) Listen(addr string) error {
	log.Infof("listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Use(recover.New())

	prom := fiberprometheus.NewWithRegistry(s.registry, s.opts.Service, "http", "", nil)
	prom.RegisterAt(s.app, "/metrics")
	s.app.Use(prom.Middleware)

	// secret protected, callers hold no api key
	s.app.Post("/webhooks/trigger/:path", s.triggerWebhook)

	api := s.app.Group("/", s.authenticate)
	api.Post("/workflows", s.createWorkflow)
	api.Put("/workflow/:id", s.updateWorkflow)
	api.Get("/workflow/:id", s.getWorkflow)
	api.Delete("/workflow/:id", s.deleteWorkflow)
	api.Post("/workflow/:id/execute", s.executeWorkflow)
	api.Post("/workflow/:id/stats", s.recordStats)
	api.Get("/user/usage", s.getUsage)
	api.Post("/webhooks", s.registerWebhook)
	api.Get("/executions/:id", s.getExecution)
}

func (s *Server) authenticate(c *fiber.Ctx) error {
	if len(s.opts.APIKeys) == 0 {
		return c.Next()
	}
	token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	for _, key := range s.opts.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return c.Next()
		}
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, errors.NotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotValid), types.IsValidationError(err):
		status = fiber.StatusBadRequest
	case errors.Is(err, errors.AlreadyExists):
		status = fiber.StatusConflict
	}
	if status >= fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
