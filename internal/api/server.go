// Package api exposes the vehicle operations and the live jeep records over
// HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"jeeproute/internal/history"
	"jeeproute/internal/store"
	"jeeproute/internal/trip"
)

// History is the read side of the trip history. A nil History disables the
// driver history routes.
type History interface {
	ForDay(ctx context.Context, driverID string, day time.Time) ([]history.Entry, error)
	DailyStats(ctx context.Context, driverID string, day time.Time) (history.Stats, error)
}

type Server struct {
	App *fiber.App

	trips   *trip.Manager
	sink    store.Sink
	history History
	loc     *time.Location
	log     *zap.Logger
	now     func() time.Time
}

type Options struct {
	History  History
	Location *time.Location
	Log      *zap.Logger
	Now      func() time.Time
}

func NewServer(trips *trip.Manager, sink store.Sink, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		trips:   trips,
		sink:    sink,
		history: opts.History,
		loc:     opts.Location,
		log:     opts.Log,
		now:     opts.Now,
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// params and bodies outlive the request as tracker ids and store paths
		Immutable:    true,
		ErrorHandler: s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.accessLog)
	s.App = app

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/zones", s.listZones)

	jeeps := s.App.Group("/jeeps")
	jeeps.Get("/", s.listJeeps)
	jeeps.Get("/:id", s.getJeep)
	s.App.Get("/jeep-info/:id", s.getProfile)

	v := s.App.Group("/vehicles")
	v.Get("/", s.listVehicles)
	v.Get("/:id", s.getVehicle)
	v.Post("/:id/online", s.goOnline)
	v.Post("/:id/trip", s.startTrip)
	v.Delete("/:id/trip", s.endTrip)
	v.Post("/:id/reroute", s.reroute)
	v.Put("/:id/full", s.setFull)
	v.Post("/:id/position", s.updatePosition)
	v.Get("/:id/route", s.route)
	v.Delete("/:id", s.goOffline)

	s.App.Get("/drivers/:id/history", s.driverHistory)

	registerStream(s.App.Group("/stream"), s.sink, s.log)
}

func (s *Server) Listen(addr string) error { return s.App.Listen(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.App.ShutdownWithContext(ctx) }

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		status = statusOf(err)
	}
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)),
	)
	return err
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, trip.ErrInvalidPosition), errors.Is(err, errBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, trip.ErrOffline), errors.Is(err, trip.ErrNoTrip), errors.Is(err, trip.ErrSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errUnknownVehicle):
		return fiber.StatusNotFound
	case errors.Is(err, errHistoryDisabled):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
