package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"jeeproute/internal/engine"
	"jeeproute/internal/fare"
	"jeeproute/internal/history"
	"jeeproute/internal/store"
	"jeeproute/internal/trip"
)

var (
	errBadRequest      = errors.New("bad request")
	errUnknownVehicle  = errors.New("unknown vehicle")
	errHistoryDisabled = errors.New("trip history is disabled")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) listZones(c *fiber.Ctx) error {
	return c.JSON(fare.Zones())
}

// record flattens a jeep snapshot into one JSON object keyed by id.
func record(snap store.Snapshot) (map[string]any, error) {
	out := map[string]any{}
	if err := snap.Decode(&out); err != nil {
		return nil, err
	}
	out["id"] = snap.Key
	return out, nil
}

func (s *Server) listJeeps(c *fiber.Ctx) error {
	snaps, err := s.sink.Children(c.Context(), store.JeepsRoot)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		r, err := record(snap)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	return c.JSON(out)
}

func (s *Server) getJeep(c *fiber.Ctx) error {
	snap, err := s.sink.ReadOnce(c.Context(), store.Child(store.JeepsRoot, c.Params("id")))
	if err != nil {
		return err
	}
	r, err := record(snap)
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	snap, err := s.sink.ReadOnce(c.Context(), store.Child(store.InfoRoot, c.Params("id")))
	if err != nil {
		return err
	}
	var p trip.Profile
	if err := snap.Decode(&p); err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) listVehicles(c *fiber.Ctx) error {
	return c.JSON(s.trips.Statuses())
}

// tracker returns the tracker of a vehicle that has been online before.
// Vehicles never seen count as offline.
func (s *Server) tracker(c *fiber.Ctx) (*trip.Tracker, error) {
	t, ok := s.trips.Lookup(c.Params("id"))
	if !ok {
		return nil, trip.ErrOffline
	}
	return t, nil
}

func (s *Server) getVehicle(c *fiber.Ctx) error {
	t, ok := s.trips.Lookup(c.Params("id"))
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownVehicle, c.Params("id"))
	}
	return c.JSON(t.Status())
}

func (s *Server) goOnline(c *fiber.Ctx) error {
	var p trip.Profile
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&p); err != nil {
			return badRequest("%v", err)
		}
	}
	t := s.trips.Get(c.Params("id"))
	if err := t.GoOnline(c.Context(), p); err != nil {
		return err
	}
	return c.JSON(t.Status())
}

type tripRequest struct {
	Direction string `json:"direction"`
}

type routeResponse struct {
	TripID     string            `json:"tripId"`
	Direction  fare.Direction    `json:"direction"`
	Generation uint64            `json:"generation"`
	Polylines  []engine.Polyline `json:"polylines"`
}

func (s *Server) respondRoute(c *fiber.Ctx, t *trip.Tracker, r *engine.ActiveRoute) error {
	return c.JSON(routeResponse{
		TripID:     t.Status().TripID,
		Direction:  r.Direction,
		Generation: r.Generation,
		Polylines:  r.Polylines(engine.DefaultStrokeWidth),
	})
}

func (s *Server) startTrip(c *fiber.Ctx) error {
	var req tripRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("%v", err)
	}
	d, err := fare.ParseDirection(req.Direction)
	if err != nil {
		return badRequest("%v", err)
	}
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	r, err := t.StartTrip(c.Context(), d)
	if err != nil {
		return err
	}
	return s.respondRoute(c, t, r)
}

func (s *Server) reroute(c *fiber.Ctx) error {
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	r, err := t.Reroute(c.Context())
	if err != nil {
		return err
	}
	return s.respondRoute(c, t, r)
}

func (s *Server) endTrip(c *fiber.Ctx) error {
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	if err := t.EndTrip(c.Context()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type fullRequest struct {
	Full *bool `json:"full"`
}

func (s *Server) setFull(c *fiber.Ctx) error {
	var req fullRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("%v", err)
	}
	if req.Full == nil {
		return badRequest("full is required")
	}
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	if err := t.SetFull(c.Context(), *req.Full); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) updatePosition(c *fiber.Ctx) error {
	var p trip.Position
	if err := c.BodyParser(&p); err != nil {
		return badRequest("%v", err)
	}
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	u, err := t.UpdatePosition(c.Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (s *Server) route(c *fiber.Ctx) error {
	width := c.QueryInt("strokeWidth", engine.DefaultStrokeWidth)
	if width <= 0 {
		return badRequest("strokeWidth must be positive")
	}
	t, err := s.tracker(c)
	if err != nil {
		return err
	}
	lines, err := t.Route(width)
	if err != nil {
		return err
	}
	return c.JSON(lines)
}

func (s *Server) goOffline(c *fiber.Ctx) error {
	t, ok := s.trips.Lookup(c.Params("id"))
	if ok {
		if err := t.GoOffline(c.Context(), trip.ReasonOffline); err != nil {
			return err
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type historyResponse struct {
	Date  string          `json:"date"`
	Trips []history.Entry `json:"trips"`
	Stats history.Stats   `json:"stats"`
}

func (s *Server) driverHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return errHistoryDisabled
	}
	day := s.now().In(s.loc)
	if q := c.Query("date"); q != "" {
		d, err := time.ParseInLocation(time.DateOnly, q, s.loc)
		if err != nil {
			return badRequest("date must be YYYY-MM-DD")
		}
		day = d
	}
	id := c.Params("id")
	trips, err := s.history.ForDay(c.Context(), id, day)
	if err != nil {
		return err
	}
	stats, err := s.history.DailyStats(c.Context(), id, day)
	if err != nil {
		return err
	}
	return c.JSON(historyResponse{Date: day.Format(time.DateOnly), Trips: trips, Stats: stats})
}
