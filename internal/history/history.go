// Package history records completed trips per driver and service day.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jeeproute/internal/db"
)

// Entry is one completed trip.
type Entry struct {
	ID          string    `json:"id"`
	DriverID    string    `json:"driverId"`
	ServiceDate time.Time `json:"serviceDate"`
	Route       string    `json:"route"`
	Direction   string    `json:"direction"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	DistanceKm  float64   `json:"distanceKm"`
}

// Stats summarizes a driver's day.
type Stats struct {
	Trips      int     `json:"trips"`
	DistanceKm float64 `json:"distanceKm"`
}

var ErrInvalidEntry = errors.New("invalid history entry")

type Store struct {
	db  db.Querier
	loc *time.Location
}

// NewStore uses loc to decide which service day a trip belongs to.
func NewStore(q db.Querier, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: q, loc: loc}
}

// ServiceDay is the calendar date of t in loc, as midnight UTC.
func ServiceDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Record stores e, assigning an id and the service day of its start.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.DriverID == "" || e.StartedAt.IsZero() {
		return Entry{}, ErrInvalidEntry
	}
	if e.EndedAt.Before(e.StartedAt) {
		return Entry{}, fmt.Errorf("%w: ended before start", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.ServiceDate = ServiceDay(e.StartedAt, s.loc)
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_history (id, driver_id, service_date, route, direction, started_at, ended_at, distance_km)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.DriverID, e.ServiceDate, e.Route, e.Direction, e.StartedAt, e.EndedAt, e.DistanceKm)
	if err != nil {
		return Entry{}, fmt.Errorf("record trip %s: %w", e.ID, err)
	}
	return e, nil
}

// ForDay lists the driver's trips on day, newest first.
func (s *Store) ForDay(ctx context.Context, driverID string, day time.Time) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, service_date, route, direction, started_at, ended_at, distance_km
		FROM trip_history
		WHERE driver_id = $1 AND service_date = $2
		ORDER BY started_at DESC
	`, driverID, ServiceDay(day, s.loc))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.DriverID, &e.ServiceDate, &e.Route, &e.Direction, &e.StartedAt, &e.EndedAt, &e.DistanceKm); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DailyStats counts the driver's trips on day and sums their distance.
func (s *Store) DailyStats(ctx context.Context, driverID string, day time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(distance_km), 0)
		FROM trip_history
		WHERE driver_id = $1 AND service_date = $2
	`, driverID, ServiceDay(day, s.loc)).Scan(&st.Trips, &st.DistanceKm)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}
