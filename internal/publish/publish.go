// Package publish defines the narrow interface the core depends on for
// pushing calibrated measurements and controller actions outward (spec
// §1's out-of-scope "MQTT publishing" collaborator), plus one concrete
// adapter. The core never imports paho directly; it only calls Publisher.
package publish

import (
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// Publisher is the outbound hook the runtime calls (PublishMeasurement)
// after each successful sensor read; the runtime does not call
// PublishAction. A no-op
// implementation lets the core run with no publish target configured.
type Publisher interface {
	PublishMeasurement(m model.Measurement) error
	PublishAction(a model.ControllerAction) error
	Close() error
}

// Noop discards everything. The default when no broker is configured.
type Noop struct{}

func (Noop) PublishMeasurement(model.Measurement) error    { return nil }
func (Noop) PublishAction(model.ControllerAction) error    { return nil }
func (Noop) Close() error                                  { return nil }

// unixMillis is a small formatting helper shared by the adapters below.
func unixMillis(t time.Time) int64 { return t.UnixNano() / int64(time.Millisecond) }
