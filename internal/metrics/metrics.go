package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	OnlineVehicles prometheus.Gauge
	ActiveTrips    prometheus.Gauge

	TripsStarted   prometheus.Counter
	TripsFinished  *prometheus.CounterVec // reason label: manual|arrived|offline|stale
	VehiclesSwept  prometheus.Counter
	PositionsTotal prometheus.Counter

	RouteBuilds       prometheus.Counter
	BuildsDiscarded   prometheus.Counter
	LegFetchErrs      prometheus.Counter
	RoutingRetries    prometheus.Counter
	SegmentsCompleted prometheus.Counter
	BuildDuration     prometheus.Histogram

	StoreWriteErrs prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	PublishInterval   prometheus.Gauge // seconds
	ArrivalThresholdM prometheus.Gauge
}

func NewCollector(publishInterval time.Duration, arrivalThresholdM float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		OnlineVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeeproute_online_vehicles",
			Help: "Number of vehicles currently online.",
		}),
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeeproute_active_trips",
			Help: "Number of vehicles currently en route.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jeeproute_trips_finished_total",
			Help: "Total trips finished by reason.",
		}, []string{"reason"}),
		VehiclesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_vehicles_swept_total",
			Help: "Vehicles taken offline after going silent.",
		}),
		PositionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_positions_total",
			Help: "Total position updates received.",
		}),
		RouteBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_route_builds_total",
			Help: "Total completed route builds.",
		}),
		BuildsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_route_builds_discarded_total",
			Help: "Route builds superseded by a newer build.",
		}),
		LegFetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_leg_fetch_errors_total",
			Help: "Legs left empty because the router failed.",
		}),
		RoutingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_routing_retries_total",
			Help: "Retried router requests.",
		}),
		SegmentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_segments_completed_total",
			Help: "Route segments completed by vehicles.",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jeeproute_route_build_duration_seconds",
			Help:    "Duration of a full route build including all leg fetches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StoreWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_store_write_errors_total",
			Help: "Failed writes to the realtime store.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jeeproute_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeeproute_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jeeproute_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeeproute_publish_interval_seconds",
			Help: "Minimum interval between position publishes per vehicle.",
		}),
		ArrivalThresholdM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jeeproute_arrival_threshold_meters",
			Help: "Distance at which a segment counts as completed.",
		}),
	}

	reg.MustRegister(
		c.OnlineVehicles, c.ActiveTrips,
		c.TripsStarted, c.TripsFinished, c.VehiclesSwept, c.PositionsTotal,
		c.RouteBuilds, c.BuildsDiscarded, c.LegFetchErrs, c.RoutingRetries,
		c.SegmentsCompleted, c.BuildDuration, c.StoreWriteErrs,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.PublishInterval, c.ArrivalThresholdM,
	)

	c.PublishInterval.Set(publishInterval.Seconds())
	c.ArrivalThresholdM.Set(arrivalThresholdM)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}
