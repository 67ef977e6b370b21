package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpup/prefab/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dpup/convoy-nav/server/internal/app"
	"github.com/dpup/convoy-nav/server/internal/clients/trace"
	"github.com/dpup/convoy-nav/server/internal/config"
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/routekml"
)

var (
	tracePath       string
	configPath      string
	origin          string
	destination     string
	provider        string
	kmlPath         string
	missionID       string
	driverID        string
	speedup         float64
	recordTelemetry bool
)

var rootCmd = &cobra.Command{
	Use:   "nav-replay",
	Short: "Replay a recorded GPS trace through turn-by-turn guidance",
	Long: `nav-replay drives a guidance session from a JSON-lines trace of position fixes.

It fetches a route from the configured providers, feeds every fix through the
session and prints instruction changes, reroutes and arrival as they happen.
Use it to tune thresholds against real drives or to reproduce a field report.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(logging.EnsureLogger(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&tracePath, "trace", "t", "", "path to a JSON-lines trace of position fixes")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.Flags().StringVarP(&origin, "origin", "o", "", `route origin as "lat,lng" or an address (default: first fix)`)
	rootCmd.Flags().StringVarP(&destination, "destination", "d", "", `destination as "lat,lng" or an address`)
	rootCmd.Flags().StringVarP(&provider, "provider", "p", "", "use a single directions provider (google or osrm)")
	rootCmd.Flags().StringVar(&kmlPath, "kml", "", "write the final route to this KML file")
	rootCmd.Flags().StringVar(&missionID, "mission", "replay", "mission id attached to telemetry")
	rootCmd.Flags().StringVar(&driverID, "driver", "replay", "driver id attached to telemetry")
	rootCmd.Flags().Float64VarP(&speedup, "speedup", "s", 10, "replay speed multiplier, 0 replays without pauses")
	rootCmd.Flags().BoolVar(&recordTelemetry, "telemetry", false, "record positions to the configured telemetry sinks")

	_ = rootCmd.MarkFlagRequired("trace")
	_ = rootCmd.MarkFlagRequired("destination")
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	// Going through the environment keeps the override under config validation
	if provider != "" {
		os.Setenv(config.EnvPrefix+"DIRECTIONS__PROVIDERS", provider)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !recordTelemetry {
		cfg.Telemetry.Sinks = nil
	}

	samples, err := trace.LoadFile(tracePath)
	if err != nil {
		return err
	}

	from := directions.ParsePlace(origin)
	if from.IsZero() {
		from = directions.PointPlace(samples[0].Point)
	}
	to := directions.ParsePlace(destination)
	if to.IsZero() {
		return fmt.Errorf("invalid destination %q", destination)
	}

	backends, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	opts := app.Options(cfg)
	opts.MissionID = missionID
	opts.DriverID = driverID

	result, err := Replay(ctx, ReplayInput{
		Samples:        samples,
		Speedup:        speedup,
		Origin:         from,
		Destination:    to,
		Gateway:        backends.Gateway,
		InitialGateway: backends.InitialGateway,
		Telemetry:      backends.Telemetry,
		Options:        opts,
		Out:            os.Stdout,
	})
	if err != nil {
		return err
	}

	PrintSummary(os.Stdout, result)

	if kmlPath != "" && result.Route != nil {
		f, err := os.Create(kmlPath)
		if err != nil {
			return fmt.Errorf("failed to create KML file: %w", err)
		}
		defer f.Close()
		if err := routekml.Write(f, "Replay of "+tracePath, result.Route); err != nil {
			return fmt.Errorf("failed to write KML: %w", err)
		}
		fmt.Printf("Route written to %s\n", kmlPath)
	}

	return nil
}
