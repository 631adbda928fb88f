// Package metrics exports call counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/agentphone/internal/softphone/session"
)

// Collector turns session events into Prometheus metrics.
type Collector struct {
	reg *prometheus.Registry

	calls       *prometheus.CounterVec
	talkTime    prometheus.Histogram
	incoming    prometheus.Counter
	deviceReady prometheus.Gauge
	deviceErrs  prometheus.Counter
	active      prometheus.Gauge
}

// New registers the softphone metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentphone_calls_total",
			Help: "Calls that left the session, partitioned by direction and outcome",
		}, []string{"direction", "outcome"}),
		talkTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentphone_talk_seconds",
			Help:    "Talk time of answered calls",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		incoming: f.NewCounter(prometheus.CounterOpts{
			Name: "agentphone_incoming_calls_total",
			Help: "Inbound calls that started ringing",
		}),
		deviceReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentphone_device_ready",
			Help: "1 while the phone is registered",
		}),
		deviceErrs: f.NewCounter(prometheus.CounterOpts{
			Name: "agentphone_device_errors_total",
			Help: "Credential, registration and transport failures",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentphone_active_call",
			Help: "1 while a call is tracked by the session",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) OnIncomingCall(session.IncomingCallNotice) {
	c.incoming.Inc()
}

func (c *Collector) OnCallStateChange(st session.CallState) {
	if st.Phase == session.PhaseIdle {
		c.active.Set(0)
	} else {
		c.active.Set(1)
	}
}

func (c *Collector) OnDeviceReady() {
	c.deviceReady.Set(1)
}

func (c *Collector) OnDeviceError(error) {
	c.deviceReady.Set(0)
	c.deviceErrs.Inc()
}

func (c *Collector) OnCallEnded(call session.EndedCall) {
	c.calls.WithLabelValues(string(call.Direction), string(call.Reason)).Inc()
	if call.Answered() {
		c.talkTime.Observe(float64(call.TalkSeconds))
	}
}

// Ensure Collector implements session.Observer
var _ session.Observer = (*Collector)(nil)
