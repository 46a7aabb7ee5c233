// Package shutdown performs the process's final teardown and exit. It is
// adapted from thatsimonsguy-hvac-controller/system/shutdown's relay
// deactivation helper: that version flips one global-config-driven GPIO
// pin and calls os.Exit; this one instead runs the explicit Runtime's
// panic-off-and-close sequence before exiting, since this service manages
// an arbitrary set of configured output pins rather than one fixed relay.
package shutdown

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/runtime"
)

// GracePeriod bounds how long Graceful/Fatal wait for the scheduler's
// in-flight tick to finish before forcing panic-off.
const GracePeriod = 5 * time.Second

// Graceful runs rt.Shutdown and exits 0, or 1 if shutdown itself failed.
func Graceful(rt *runtime.Runtime, log zerolog.Logger) {
	if err := rt.Shutdown(GracePeriod); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
	os.Exit(0)
}

// Fatal logs err and msg, attempts the same panic-off-and-close sequence
// as Graceful so actuators are never left energized on a fatal error, and
// exits non-zero regardless of whether that attempt succeeds.
func Fatal(rt *runtime.Runtime, log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if shutdownErr := rt.Shutdown(GracePeriod); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("panic-off during fatal shutdown also failed")
	}
	os.Exit(1)
}
