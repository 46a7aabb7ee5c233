// Package statusapi is the thin, read-only debug/status server that
// stands in for the out-of-scope external HTTP/JSON API's consumption
// points (spec §1/§6): current sensor readings, output pin states, and
// scheduler task health, plus the prometheus /metrics scrape endpoint.
// It never accepts a write that changes control behavior.
package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/metrics"
	"github.com/greenhaven/hydro-controller/internal/model"
	"github.com/greenhaven/hydro-controller/internal/scheduler"
)

// SensorReader is the narrow view onto sensor state this server needs.
type SensorReader interface {
	Latest(sensorID string) (model.Measurement, bool)
}

// Server serves the status routes. Constructed with everything it reads
// from so it never reaches into package globals.
type Server struct {
	sensors    SensorReader
	actuators  *arbiter.Arbiter
	sched      *scheduler.Scheduler
	metricsReg *metrics.Prometheus
	log        zerolog.Logger
	router     *mux.Router
}

func New(sensors SensorReader, actuators *arbiter.Arbiter, sched *scheduler.Scheduler, reg *metrics.Prometheus, log zerolog.Logger) *Server {
	s := &Server{sensors: sensors, actuators: actuators, sched: sched, metricsReg: reg, log: log.With().Str("component", "statusapi").Logger()}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	sr := s.router.PathPrefix("/status").Subrouter()
	sr.HandleFunc("/sensors/{id}", s.getSensorStatus).Methods("GET")
	sr.HandleFunc("/pins", s.getPinStates).Methods("GET")
	sr.HandleFunc("/tasks", s.getTaskStatus).Methods("GET")
	sr.HandleFunc("/healthz", s.getHealthz).Methods("GET")

	if s.metricsReg != nil {
		s.router.Handle("/metrics", s.metricsReg.Handler()).Methods("GET")
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type sensorStatusResponse struct {
	SensorID  string    `json:"sensor_id"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) getSensorStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, ok := s.sensors.Latest(id)
	if !ok {
		http.Error(w, "no measurement recorded for sensor", http.StatusNotFound)
		return
	}
	writeJSON(w, sensorStatusResponse{SensorID: m.SensorID, Value: m.Value, Unit: m.Unit, Kind: string(m.Kind), Timestamp: m.Timestamp})
}

type pinStateResponse struct {
	Pin   int    `json:"pin"`
	Level string `json:"level"`
}

func (s *Server) getPinStates(w http.ResponseWriter, r *http.Request) {
	states := s.actuators.List()
	out := make([]pinStateResponse, 0, len(states))
	for pin, st := range states {
		out = append(out, pinStateResponse{Pin: pin, Level: st.Level.String()})
	}
	writeJSON(w, out)
}

func (s *Server) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.Status())
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
