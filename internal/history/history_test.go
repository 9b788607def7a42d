package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var manila = time.FixedZone("PHT", 8*3600)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestServiceDayUsesLocation(t *testing.T) {
	// 23:30 UTC is already the next morning in Manila
	ts := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), ServiceDay(ts, manila))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), ServiceDay(ts, time.UTC))
}

func TestRecord(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock, manila)
	start := time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO trip_history`).
		WithArgs(pgxmock.AnyArg(), "driver-1", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), "Balacbac – Town", "inbound", start, start.Add(40*time.Minute), 6.2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e, err := s.Record(context.Background(), Entry{
		DriverID: "driver-1", Route: "Balacbac – Town", Direction: "inbound",
		StartedAt: start, EndedAt: start.Add(40 * time.Minute), DistanceKm: 6.2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordValidates(t *testing.T) {
	s := NewStore(newMock(t), nil)
	now := time.Now()
	_, err := s.Record(context.Background(), Entry{StartedAt: now})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = s.Record(context.Background(), Entry{DriverID: "d", StartedAt: now, EndedAt: now.Add(-time.Second)})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestRecordWrapsError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO trip_history`).WillReturnError(errors.New("db down"))
	now := time.Now()
	_, err := NewStore(mock, nil).Record(context.Background(), Entry{ID: "x", DriverID: "d", StartedAt: now, EndedAt: now})
	assert.ErrorContains(t, err, "record trip x")
}

func TestForDay(t *testing.T) {
	mock := newMock(t)
	s := NewStore(mock, manila)
	day := time.Date(2025, 3, 2, 9, 0, 0, 0, manila)
	date := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, driver_id, service_date, route, direction, started_at, ended_at, distance_km`).
		WithArgs("driver-1", date).
		WillReturnRows(pgxmock.NewRows([]string{"id", "driver_id", "service_date", "route", "direction", "started_at", "ended_at", "distance_km"}).
			AddRow("b", "driver-1", date, "r", "outbound", t2, t2.Add(time.Hour), 5.0).
			AddRow("a", "driver-1", date, "r", "inbound", t1, t1.Add(time.Hour), 4.5))

	entries, err := s.ForDay(context.Background(), "driver-1", day)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, 4.5, entries[1].DistanceKm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForDayEmpty(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM trip_history`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "driver_id", "service_date", "route", "direction", "started_at", "ended_at", "distance_km"}))
	entries, err := NewStore(mock, nil).ForDay(context.Background(), "nobody", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestDailyStats(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(distance_km\), 0\)`).
		WithArgs("driver-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(3, 14.5))

	st, err := NewStore(mock, manila).DailyStats(context.Background(), "driver-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Stats{Trips: 3, DistanceKm: 14.5}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}
