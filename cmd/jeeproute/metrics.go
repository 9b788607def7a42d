package main

import (
	"time"

	"jeeproute/internal/metrics"
)

// Adapters from the Collector to the narrow metrics interfaces of each package.

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

type engineMetrics struct{ c *metrics.Collector }

func (e *engineMetrics) LegFetchErrInc() { e.c.LegFetchErrs.Inc() }
func (e *engineMetrics) BuildObserve(d time.Duration) {
	e.c.RouteBuilds.Inc()
	e.c.BuildDuration.Observe(d.Seconds())
}
func (e *engineMetrics) SegmentCompletedInc() { e.c.SegmentsCompleted.Inc() }

type tripMetrics struct{ c *metrics.Collector }

func (t *tripMetrics) TripStartedInc()               { t.c.TripsStarted.Inc() }
func (t *tripMetrics) TripFinishedInc(reason string) { t.c.TripsFinished.WithLabelValues(reason).Inc() }
func (t *tripMetrics) PositionInc()                  { t.c.PositionsTotal.Inc() }
func (t *tripMetrics) BuildDiscardedInc()            { t.c.BuildsDiscarded.Inc() }
func (t *tripMetrics) StoreWriteErrInc()             { t.c.StoreWriteErrs.Inc() }
func (t *tripMetrics) VehicleSweptInc()              { t.c.VehiclesSwept.Inc() }
func (t *tripMetrics) SetCounts(online, enRoute int) {
	t.c.OnlineVehicles.Set(float64(online))
	t.c.ActiveTrips.Set(float64(enRoute))
}
