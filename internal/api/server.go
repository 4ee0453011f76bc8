// Package api exposes the job triggers, demo seeding and debug helpers over
// HTTP. Every response is a JSON object with an "ok" field.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/aggregation"
	"github.com/smukkama/water-risk/internal/alerting"
	"github.com/smukkama/water-risk/internal/cases"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// Deps are the collaborators behind the HTTP handlers. Tracker and Gatherer
// may be nil.
type Deps struct {
	Store    database.Store
	Paths    database.Paths
	Sites    []config.Site
	Calendar season.Calendar
	Hourly   *aggregation.HourlyAggregator
	Daily    *aggregation.DailyAggregator
	Resolver *cases.Resolver
	Tracker  *alerting.Tracker
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the fiber application serving the trigger surface
type Server struct {
	Deps
	app *fiber.App
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	deps.Logger = deps.Logger.With(zap.String("component", "api"))

	s := &Server{Deps: deps}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.requestLogger)

	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))

	run := s.app.Group("/run")
	run.Post("/hourly", s.runHourly)
	run.Get("/hourly", s.runHourly)
	run.Post("/daily", s.runDailyPost)
	run.Get("/daily", s.runDailyGet)

	demo := s.app.Group("/demo")
	demo.Post("/seed", s.seedPost)
	demo.Get("/seed", s.seedGet)

	debug := s.app.Group("/debug")
	debug.Get("/inspect", s.inspect)
	debug.Get("/cases", s.setCases)
	debug.Get("/sample", s.setSample)
	debug.Get("/manual", s.setManual)

	s.app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"ok":    false,
			"error": "endpoint not found",
			"path":  c.Path(),
		})
	})
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves HTTP on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.Logger.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("duration", time.Since(start)),
	}
	if id, ok := c.Locals("requestid").(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	s.Logger.Info("http request", fields...)
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.Logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(code).JSON(fiber.Map{"ok": false, "error": err.Error()})
}
