package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus holds the scrape-facing gauges and counters exposed via the
// read-only debug/status surface's /metrics endpoint. The runtime updates
// the sensor metrics on every sensor read and counts ControllerActions once
// per completed controller process step (kind "processed");
// PumpRuntimeTotal and OutputPinLevel are registered but not updated.
type Prometheus struct {
	registry *prometheus.Registry

	SensorReads       *prometheus.CounterVec
	SensorReadErrors  *prometheus.CounterVec
	SensorLastValue   *prometheus.GaugeVec
	ControllerActions *prometheus.CounterVec
	PumpRuntimeTotal  *prometheus.CounterVec
	OutputPinLevel    *prometheus.GaugeVec
}

// NewPrometheus constructs a fresh registry and registers every metric.
// Each instance owns its own registry so tests can construct one without
// colliding with prometheus's default global registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		SensorReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_sensor_reads_total",
			Help: "Completed sensor read attempts.",
		}, []string{"sensor_id"}),
		SensorReadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_sensor_read_errors_total",
			Help: "Sensor read attempts that returned an error.",
		}, []string{"sensor_id", "kind"}),
		SensorLastValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydro_sensor_last_value",
			Help: "Most recent calibrated value read from a sensor.",
		}, []string{"sensor_id", "unit"}),
		ControllerActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_controller_actions_total",
			Help: "Completed controller process steps.",
		}, []string{"controller_id", "kind"}),
		PumpRuntimeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydro_pump_runtime_seconds_total",
			Help: "Accumulated circulation pump runtime.",
		}, []string{"controller_id"}),
		OutputPinLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydro_output_pin_level",
			Help: "Current logical level of a managed output pin (0=low, 1=high, 2=pulsing).",
		}, []string{"pin"}),
	}
}

// Handler exposes the scrape endpoint for mounting onto the status
// server's router.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
