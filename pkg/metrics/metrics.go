// Package metrics exports call bridge counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/session"
)

const namespace = "callbridge"

// Frame directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Collectors holds every call bridge metric. Create one per process with New.
type Collectors struct {
	// Active is the number of live calls. It satisfies registry.Gauge.
	Active prometheus.Gauge

	calls         *prometheus.CounterVec
	frames        *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	stale         prometheus.Counter
	interruptions prometheus.Counter
	reconnects    prometheus.Counter
	handshake     prometheus.Histogram
	latency       prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total calls ended, by termination reason",
		}, []string{"reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Carrier audio frames bridged, by direction",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped, by reason",
		}, []string{"reason"}), // reason: codec, interrupted
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_chunks_total",
			Help:      "AI audio chunks discarded because their response was cancelled",
		}),
		interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Caller barge-ins over AI playback",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_reconnects_total",
			Help:      "Successful AI channel reconnects",
		}),
		handshake: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_handshake_duration_seconds",
			Help:      "Time to open and configure the AI channel",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from the end of caller speech to the first AI audio",
			Buckets:   []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5},
		}),
	}

	var errs []error
	for _, col := range c.all() {
		if err := reg.Register(col); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.Active,
		c.calls,
		c.frames,
		c.dropped,
		c.stale,
		c.interruptions,
		c.reconnects,
		c.handshake,
		c.latency,
	}
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Call returns the metrics sink for one call.
func (c *Collectors) Call() *Call {
	return &Call{
		c:     c,
		in:    c.frames.WithLabelValues(DirectionIn),
		out:   c.frames.WithLabelValues(DirectionOut),
		Turns: NewTurnTracker(DefaultTurnHistory),
	}
}

// CallEnded counts an ended call.
func (c *Collectors) CallEnded(reason session.TerminationReason) {
	if reason == "" {
		reason = session.ReasonError
	}
	c.calls.WithLabelValues(string(reason)).Inc()
}

// Observer returns a bridge observer that counts ended calls.
func (c *Collectors) Observer() bridge.Observer {
	return endObserver{c: c}
}

type endObserver struct {
	bridge.NopObserver
	c *Collectors
}

func (o endObserver) Ended(snap session.Snapshot, _ error) {
	o.c.CallEnded(snap.Reason)
}

// Call implements bridge.Metrics for a single call.
type Call struct {
	c   *Collectors
	in  prometheus.Counter
	out prometheus.Counter

	// Turns records response latency for this call.
	Turns *TurnTracker
}

func (m *Call) FrameIn()  { m.in.Inc() }
func (m *Call) FrameOut() { m.out.Inc() }

func (m *Call) FrameDropped(reason string, n int) {
	m.c.dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Call) StaleChunk()   { m.c.stale.Inc() }
func (m *Call) Interruption() { m.c.interruptions.Inc() }
func (m *Call) Reconnect()    { m.c.reconnects.Inc() }

func (m *Call) Handshake(d time.Duration) {
	m.c.handshake.Observe(d.Seconds())
}

func (m *Call) CallerStopped() { m.Turns.MarkSpeechEnd() }

func (m *Call) ResponseAudio() {
	if d, ok := m.Turns.MarkFirstAudio(); ok {
		m.c.latency.Observe(d.Seconds())
	}
}
