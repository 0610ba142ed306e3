package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/daemon"
	"github.com/npratt/gamepilot/internal/events"
	"github.com/npratt/gamepilot/internal/store"
)

// logsPollInterval is how often `logs --follow` asks the daemon for new records.
const logsPollInterval = time.Second

// eventLogPath finds the event log of the project: the running daemon's
// path first, then --log-file, then the default.
func eventLogPath() string {
	if info, err := daemon.FindInfo(""); err == nil && info.LogPath != "" {
		return info.LogPath
	}
	logPath := viper.GetString(FlagLogFile)
	if logPath == "" {
		logPath = config.Default().Paths.Log
	}
	resolved, err := daemon.ResolvePaths(config.PathsConfig{Log: logPath}, daemon.FindProjectRoot(""))
	if err != nil {
		return logPath
	}
	return resolved.Log
}

// tailLast prints the last n events of the log and returns the timestamp of
// the newest one printed.
func tailLast(w io.Writer, path string, n int) (time.Time, error) {
	var ring []events.Event
	err := events.Tail(context.Background(), path, false, func(ev events.Event) {
		ring = append(ring, ev)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	})
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "No events yet (log file does not exist)")
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read event log: %w", err)
	}
	if len(ring) == 0 {
		fmt.Fprintln(w, "No events yet")
		return time.Time{}, nil
	}
	for _, ev := range ring {
		printEvent(w, ev)
	}
	return ring[len(ring)-1].Timestamp(), nil
}

// tailFollow prints events newer than after as they are appended, until ctx
// is done. It waits for the log file to appear.
func tailFollow(ctx context.Context, w io.Writer, path string, after time.Time) error {
	for {
		err := events.Tail(ctx, path, true, func(ev events.Event) {
			if ev.Timestamp().After(after) {
				printEvent(w, ev)
			}
		})
		if err == nil || !os.IsNotExist(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// printEvent prints one event in a human-readable format.
func printEvent(w io.Writer, ev events.Event) {
	fmt.Fprintln(w, events.FormatWithTimestamp(ev))
}

func newEventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "View recent control loop events",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt(FlagCount)
			follow, _ := cmd.Flags().GetBool(FlagFollow)
			out := cmd.OutOrStdout()
			path := eventLogPath()

			last, err := tailLast(out, path, count)
			if err != nil || !follow {
				return err
			}
			fmt.Fprintln(out, "Following events (Ctrl+C to stop)...")
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return tailFollow(ctx, out, path, last)
		},
	}
	eventsCmd.Flags().Bool(FlagFollow, false, "Follow event log (like tail -f)")
	eventsCmd.Flags().Int(FlagCount, 20, "Number of recent events to show")
	return eventsCmd
}

// printLogRecord prints one telemetry log line.
func printLogRecord(w io.Writer, rec store.LogRecord) {
	fmt.Fprintf(w, "[%s] %-5s %s\n", rec.Timestamp, strings.ToUpper(rec.Level), events.SafeString(rec.Message))
}

func newLogsCmd() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show telemetry log lines received from the backend stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetInt(FlagSince)
			follow, _ := cmd.Flags().GetBool(FlagFollow)
			out := cmd.OutOrStdout()
			client := getDaemonClient()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			for {
				resp, err := client.Logs(since)
				if err != nil {
					return err
				}
				for _, rec := range resp.Records {
					printLogRecord(out, rec)
				}
				since = resp.Next
				if !follow {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(logsPollInterval):
				}
			}
		},
	}
	logsCmd.Flags().Bool(FlagFollow, false, "Keep polling for new lines")
	logsCmd.Flags().Int(FlagSince, 0, "Skip the first N lines")
	return logsCmd
}
