package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/teslashibe/camcal/internal/log"
	"github.com/teslashibe/camcal/pkg/geometry"
	"github.com/teslashibe/camcal/pkg/registry"
	"github.com/teslashibe/camcal/pkg/web"
)

// defaultCameras is the number of empty cameras created when none are configured.
const defaultCameras = 2

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the calibration dashboard",
	Long: `Starts the camera registry and the dashboard API. Cameras listed in the
config file are created on startup; otherwise two empty cameras are added.
Progress and results stream to websocket clients on /ws/events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := registry.New(geometry.NewOpenCV(),
		registry.WithLogger(log.L()),
		registry.WithMetrics(registry.NewMetrics(metrics)),
		registry.WithPreviewHeight(cfg.PreviewHeight),
		registry.WithBoard(cfg.Board),
	)
	defer reg.Close()

	if err := seed(reg, cfg.Cameras); err != nil {
		return err
	}

	srv := web.NewServer(reg, web.Config{
		Addr:     cfg.Addr(),
		Gatherer: metrics,
		Logger:   log.L(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := reg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("registry loop stopped", "error", err)
		}
	}()

	log.Info("camcal dashboard starting", "addr", cfg.Addr(), "cameras", len(reg.List()))
	return srv.Start(ctx)
}

// seed adds the configured cameras, or the default empty ones.
func seed(reg *registry.Registry, cams []registry.Settings) error {
	if len(cams) == 0 {
		for range defaultCameras {
			cams = append(cams, registry.DefaultSettings())
		}
	}
	for _, s := range cams {
		if _, err := reg.Add(s); err != nil {
			return fmt.Errorf("add camera %q: %w", s.Name, err)
		}
	}
	return nil
}
