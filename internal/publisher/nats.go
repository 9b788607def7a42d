package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is the root of every vehicle position subject.
const SubjectPrefix = "jeeps"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn        Conn
	nc          *nats.Conn
	log         *zap.Logger
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, log *zap.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("jeeproute"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := NewWithConn(nc, logSubjects, log, m)
	p.nc = nc
	return p, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn Conn, logSubjects bool, log *zap.Logger, m PublisherMetrics) *NATSPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, log: log, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is one vehicle fix as seen by subscribers of jeeps.<id>.
type PositionMessage struct {
	VehicleID         string    `json:"vehicleId"`
	TripID            string    `json:"tripId,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	Heading           float64   `json:"heading"`
	SpeedMps          float64   `json:"speedMps"`
	IsFull            bool      `json:"isFull"`
	Direction         string    `json:"direction,omitempty"`
	RemainingSegments int       `json:"remainingSegments"`
}

// Subject returns the subject a vehicle's positions are published on.
func Subject(vehicleID string) string {
	return SubjectPrefix + "." + subjectToken(vehicleID)
}

func (p *NATSPublisher) PublishPosition(vehicleID string, msg PositionMessage) error {
	subject := Subject(vehicleID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug("nats publish", zap.String("subject", subject))
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
