// Package metrics wires two parallel sinks: a dogstatsd client for live
// gauges/counts pushed to an agent, and a prometheus registry the
// debug/status surface scrapes. Both are explicit-lifecycle values owned
// by the runtime, not package globals (spec §9's design-notes correction
// to thatsimonsguy-hvac-controller/internal/datadog's global var).
package metrics

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog"
)

// Dogstatsd pushes gauges and counts to a local dogstatsd agent. Safe to
// use as a nil-receiver no-op client when disabled, so callers never
// branch on whether metrics are configured.
type Dogstatsd struct {
	client *statsd.Client
	log    zerolog.Logger
}

// NewDogstatsd dials addr. An empty addr returns a valid, inert client.
func NewDogstatsd(addr, namespace string, tags []string, log zerolog.Logger) (*Dogstatsd, error) {
	if addr == "" {
		return &Dogstatsd{log: log}, nil
	}
	c, err := statsd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("dial dogstatsd at %s: %w", addr, err)
	}
	c.Namespace = namespace
	c.Tags = tags
	return &Dogstatsd{client: c, log: log}, nil
}

func (d *Dogstatsd) Gauge(name string, value float64, tags ...string) {
	if d == nil || d.client == nil {
		return
	}
	if err := d.client.Gauge(name, value, tags, 1); err != nil {
		d.log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge")
	}
}

func (d *Dogstatsd) Count(name string, value int64, tags ...string) {
	if d == nil || d.client == nil {
		return
	}
	if err := d.client.Count(name, value, tags, 1); err != nil {
		d.log.Warn().Err(err).Str("metric", name).Msg("failed to emit count")
	}
}

func (d *Dogstatsd) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
