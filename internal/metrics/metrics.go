// Package metrics exposes Prometheus collectors for the device session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capture_gateway"

// Transfer results.
const (
	TransferSaved    = "saved"
	TransferFailed   = "failed"
	TransferRejected = "rejected"
	TransferDropped  = "dropped"
)

// Metrics groups the session collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	state         *prometheus.GaugeVec
	connects      *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	bytesReceived prometheus.Counter
	configPushes  *prometheus.CounterVec
	deviceUsage   prometheus.Gauge

	states []string
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, states []string) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current device session state (1 for the active state).",
		}, []string{"state"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Device connection attempts by result.",
		}, []string{"result"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Image transfers by result.",
		}, []string{"result"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Image bytes received from the device.",
		}),
		configPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_pushes_total",
			Help:      "Settings writes to the device by result.",
		}, []string{"result"}),
		deviceUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_memory_usage_percent",
			Help:      "Frame-buffer memory usage last reported by the device.",
		}),
		states: states,
	}
	reg.MustRegister(m.state, m.connects, m.transfers, m.bytesReceived, m.configPushes, m.deviceUsage)
	return m
}

// SetState marks state as the active session state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range m.states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// ObserveConnect counts a connection attempt.
func (m *Metrics) ObserveConnect(ok bool) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result(ok)).Inc()
}

// ObserveTransfer counts a finished transfer and the bytes it carried.
func (m *Metrics) ObserveTransfer(outcome string, bytes int) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.bytesReceived.Add(float64(bytes))
	}
}

// ObserveConfigPush counts a settings write.
func (m *Metrics) ObserveConfigPush(ok bool) {
	if m == nil {
		return
	}
	m.configPushes.WithLabelValues(result(ok)).Inc()
}

// SetDeviceUsage records the device's reported memory usage.
func (m *Metrics) SetDeviceUsage(percent float64) {
	if m == nil {
		return
	}
	m.deviceUsage.Set(percent)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
