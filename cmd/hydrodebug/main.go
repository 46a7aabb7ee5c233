// Command hydrodebug is an offline CLI for inspecting and patching the
// persisted sensor/controller configuration directly against the sqlite
// database, for use when the process is stopped (e.g. taking a
// misbehaving sensor or controller offline without editing the config
// file it was seeded from).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/greenhaven/hydro-controller/internal/db"
)

func main() {
	var dbPath, command, id string
	var enabled bool

	flag.StringVar(&dbPath, "db", "/var/lib/hydro-controller/state.db", "path to the sqlite database file")
	flag.StringVar(&command, "cmd", "", "command to run: list-sensors, list-controllers, set-sensor-enabled, set-controller-enabled")
	flag.StringVar(&id, "id", "", "sensor or controller id for the set-* commands")
	flag.BoolVar(&enabled, "enabled", true, "value for set-*-enabled commands")
	help := flag.Bool("help", false, "show help")
	flag.Parse()

	if *help || command == "" {
		printUsage()
		os.Exit(0)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		fmt.Printf("failed to open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer database.Close()

	if err := run(database, command, id, enabled); err != nil {
		fmt.Printf("command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("command %s completed successfully\n", command)
}

func run(database *db.DB, command, id string, enabled bool) error {
	switch command {
	case "list-sensors":
		sensors, err := database.AllSensors()
		if err != nil {
			return err
		}
		for _, s := range sensors {
			fmt.Printf("%-20s driver=%-14s enabled=%-5v last_measurement_at=%s\n", s.ID, s.DriverTag, s.Enabled, s.LastMeasurementAt)
		}
		return nil
	case "list-controllers":
		controllers, err := database.AllControllers()
		if err != nil {
			return err
		}
		for _, c := range controllers {
			fmt.Printf("%-20s type=%-14s enabled=%-5v bound=%v\n", c.ID, c.ControllerType, c.Enabled, c.BoundSensors)
		}
		return nil
	case "set-sensor-enabled":
		if id == "" {
			return fmt.Errorf("-id is required")
		}
		return database.UpdateSensorEnabled(id, enabled)
	case "set-controller-enabled":
		if id == "" {
			return fmt.Errorf("-id is required")
		}
		return database.UpdateControllerEnabled(id, enabled)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println("\nUsage of hydrodebug:")
	fmt.Println("  -db string\tpath to the sqlite database file")
	fmt.Println("  -cmd string\tcommand: list-sensors, list-controllers, set-sensor-enabled, set-controller-enabled")
	fmt.Println("  -id string\tsensor or controller id for the set-* commands")
	fmt.Println("  -enabled\tvalue for set-*-enabled commands (default true)")
	fmt.Println("  -help\tshow this help message")
}
