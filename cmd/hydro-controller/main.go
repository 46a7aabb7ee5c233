// Command hydro-controller runs the environmental control process: it
// loads a RuntimeConfig, wires the runtime, serves the read-only
// debug/status surface, and drives the scheduler until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/greenhaven/hydro-controller/internal/config"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/logging"
	"github.com/greenhaven/hydro-controller/internal/metrics"
	"github.com/greenhaven/hydro-controller/internal/publish"
	"github.com/greenhaven/hydro-controller/internal/runtime"
	"github.com/greenhaven/hydro-controller/internal/statusapi"
	"github.com/greenhaven/hydro-controller/system/shutdown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "hydro-controller",
		Short: "Single-node environmental control service",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Load the configured sensors and controllers and run the control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(configPath, httpAddr, dryRun)
		},
	}
	run.Flags().StringVar(&configPath, "config", "/etc/hydro-controller/config.yaml", "path to the RuntimeConfig file")
	run.Flags().StringVar(&httpAddr, "http-addr", ":8080", "address the debug/status HTTP surface listens on")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "use the in-memory hal.Stub bus instead of real GPIO/I2C/1-Wire hardware")

	cmd.AddCommand(run)
	return cmd
}

func runController(configPath, httpAddr string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.ParseLevel(cfg.LogLevel), "")
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	opts := runtime.Options{}
	if dryRun {
		opts.Bus = hal.NewStub()
		log.Info().Msg("dry-run: using stub hal bus, no real hardware will be touched")
	}

	if cfg.MQTT != nil && cfg.MQTT.BrokerURL != "" {
		pub, err := publish.NewMQTT(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix)
		if err != nil {
			return fmt.Errorf("connect mqtt publisher: %w", err)
		}
		opts.Publisher = pub
	}

	if cfg.Metrics != nil && cfg.Metrics.DogstatsdAddr != "" {
		ds, err := metrics.NewDogstatsd(cfg.Metrics.DogstatsdAddr, "hydro", nil, log)
		if err != nil {
			return fmt.Errorf("connect dogstatsd: %w", err)
		}
		opts.Dogstatsd = ds
	}

	rt, err := runtime.New(cfg, log, opts)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	status := statusapi.New(rt.Sensors(), rt.Actuators(), rt.Scheduler(), rt.Metrics(), log)
	httpServer := &http.Server{Addr: httpAddr, Handler: status}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status http server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("http_addr", httpAddr).Str("config", configPath).Msg("hydro-controller started")
	runWithFatalRecovery(ctx, rt, log)

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown.GracePeriod)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	shutdown.Graceful(rt, log)
	return nil
}

// runWithFatalRecovery drives the scheduler loop, recovering a
// *herr.Fatal panic (the scheduler's documented response to that
// classification) into the same panic-off-and-exit path as a clean
// shutdown, rather than letting it unwind past main with actuators
// potentially still energized.
func runWithFatalRecovery(ctx context.Context, rt *runtime.Runtime, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			shutdown.Fatal(rt, log, err, "fatal error, forcing panic-off")
		}
	}()
	rt.Run(ctx)
}
