package main

import (
	"context"
	"fmt"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/npratt/gamepilot/internal/backendsim"
	"github.com/npratt/gamepilot/internal/shutdown"
	"github.com/npratt/gamepilot/internal/store"
)

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdown.Signals...)
}

// simulatedSides alternate in the telemetry snapshots the simulator sends.
var simulatedSides = []string{"left", "right"}

// emitTelemetry broadcasts a log line and an activity snapshot every
// interval until ctx is done.
func emitTelemetry(ctx context.Context, sim *backendsim.Server, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sim.BroadcastLog("info", fmt.Sprintf("telemetry tick %d", n))
			sim.BroadcastVehicle(simulatedSides[n%len(simulatedSides)], map[int]store.Cell{
				1: {Card: "GuGu", Level: 1 + n%5},
				2: {Card: "Bobo", Level: 1 + (n+2)%5},
			})
		}
	}
}

func newSimulateCmd(c *cli) *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated automation backend for local testing",
		Long: `Serve an in-process fake of the automation backend, including the
telemetry stream, so the control loop can be exercised without a game.

Each started session reports as running for --active-probes probes and then
ends, so a run walks through its rounds on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.applyVerbose()

			addr, _ := cmd.Flags().GetString(FlagAddr)
			probes, _ := cmd.Flags().GetInt(FlagActiveProbes)
			jsonEvents, _ := cmd.Flags().GetBool(FlagJSONEvents)
			interval, _ := cmd.Flags().GetDuration(FlagTelemetryRate)

			gin.SetMode(gin.ReleaseMode)
			opts := []backendsim.Option{
				backendsim.WithLogger(c.logger),
				backendsim.WithActiveProbes(probes),
			}
			if jsonEvents {
				opts = append(opts, backendsim.WithJSONEvents())
			}
			sim := backendsim.New(opts...)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sim.ListenAndServe(gctx, addr) })
			if interval > 0 {
				g.Go(func() error { return emitTelemetry(gctx, sim, interval) })
			}
			return g.Wait()
		},
	}

	simulateCmd.Flags().String(FlagAddr, "127.0.0.1:8000", "Listen address")
	simulateCmd.Flags().Int(FlagActiveProbes, backendsim.DefaultActiveProbes, "Active probes reported per started session")
	simulateCmd.Flags().Bool(FlagJSONEvents, false, "Send stream events as JSON instead of Python literals")
	simulateCmd.Flags().Duration(FlagTelemetryRate, 5*time.Second, "Telemetry broadcast interval (0 = off)")
	return simulateCmd
}
