package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/gamepilot/internal/config"
	"github.com/npratt/gamepilot/internal/daemon"
	"github.com/npratt/gamepilot/internal/events"
)

// newControlCmds returns the commands that talk to a running daemon.
func newControlCmds() []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run",
		Long: `Ask the backend to start a session and arm the heartbeat.

A run that already used its whole round budget starts over from round 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getDaemonClient().Start(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Run started")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the loop, keeping the round count",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getDaemonClient().Stop(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Loop stopped - use continue to pick up on the current round")
			return nil
		},
	}

	continueCmd := &cobra.Command{
		Use:   "continue",
		Short: "Re-arm the loop on the current round without starting a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getDaemonClient().Continue(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Loop continued")
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Set the round counter back to 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getDaemonClient().Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Round counter reset")
			return nil
		},
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the loop and exit the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getDaemonClient().Shutdown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Shutdown requested")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and loop status",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool(FlagJSON)
			out := cmd.OutOrStdout()

			status, err := getDaemonClient().Status()
			if errors.Is(err, daemon.ErrNotRunning) {
				return printOfflineStatus(out, asJSON)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, status)
			}
			printStatus(out, status)
			return nil
		},
	}
	statusCmd.Flags().Bool(FlagJSON, false, "Output status as JSON")

	windowsCmd := &cobra.Command{
		Use:   "windows",
		Short: "List the backend's game and tool windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getDaemonClient().Windows()
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printWindows(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	windowsCmd.Flags().Bool(FlagJSON, false, "Output windows as JSON")

	locateCmd := &cobra.Command{
		Use:   "locate",
		Short: "Highlight a window, or the configured windows of a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, _ := cmd.Flags().GetInt(FlagPID)
			role, _ := cmd.Flags().GetString(FlagRole)
			if (pid == 0) == (role == "") {
				return errors.New("exactly one of --pid or --role is required")
			}
			ack, err := getDaemonClient().Locate(daemon.LocateParams{PID: pid, Role: role})
			if err != nil {
				return err
			}
			printAck(cmd.OutOrStdout(), "locate", ack)
			return nil
		},
	}
	locateCmd.Flags().Int(FlagPID, 0, "Window process id")
	locateCmd.Flags().String(FlagRole, "", "Role whose windows to check (primary, secondary)")

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock or unlock a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, _ := cmd.Flags().GetInt(FlagPID)
			unlock, _ := cmd.Flags().GetBool(FlagUnlock)
			ack, err := getDaemonClient().Lock(!unlock, pid)
			if err != nil {
				return err
			}
			action := "lock"
			if unlock {
				action = "unlock"
			}
			printAck(cmd.OutOrStdout(), action, ack)
			return nil
		},
	}
	lockCmd.Flags().Int(FlagPID, 0, "Window process id (0 = the backend's current window)")
	lockCmd.Flags().Bool(FlagUnlock, false, "Unlock instead of lock")

	selectCmd := &cobra.Command{
		Use:   "select <window>",
		Short: "Target a window and reopen the telemetry stream for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getDaemonClient().Select(args[0])
			if err != nil {
				return err
			}
			printStream(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Open the telemetry stream for the current target",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getDaemonClient().Connect()
			if err != nil {
				return err
			}
			printStream(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Close the telemetry stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getDaemonClient().Disconnect()
			if err != nil {
				return err
			}
			printStream(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	return []*cobra.Command{
		startCmd, stopCmd, continueCmd, resetCmd, shutdownCmd,
		statusCmd, windowsCmd, locateCmd, lockCmd,
		selectCmd, connectCmd, disconnectCmd,
	}
}

func printStream(w io.Writer, resp *daemon.StreamResponse) {
	state := "disconnected"
	if resp.Connected {
		state = "connected"
	}
	if resp.SessionID != "" {
		fmt.Fprintf(w, "stream: %s (session %s)\n", state, resp.SessionID)
		return
	}
	fmt.Fprintf(w, "stream: %s\n", state)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printStatus(w io.Writer, s *daemon.StatusResponse) {
	fmt.Fprintf(w, "Status: %s\n", s.Status)
	fmt.Fprintf(w, "Round: %d/%d\n", s.Round, s.TotalRounds)
	fmt.Fprintf(w, "Mode: %s\n", s.Mode)
	fmt.Fprintf(w, "Post action: %s\n", s.PostAction)
	if s.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", s.RunID)
	}
	if s.Interval != "" {
		fmt.Fprintf(w, "Heartbeat: every %s\n", s.Interval)
	}
	if s.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "Failed probes in a row: %d\n", s.ConsecutiveFailures)
	}
	if s.SkippedTicks > 0 {
		fmt.Fprintf(w, "Skipped ticks: %d\n", s.SkippedTicks)
	}
	stream := "disconnected"
	if s.StreamConnected {
		stream = "connected (" + s.SessionID + ")"
	}
	fmt.Fprintf(w, "Stream: %s\n", stream)
	fmt.Fprintf(w, "Log records: %d\n", s.LogCount)
	fmt.Fprintf(w, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(w, "Started: %s\n", s.StartTime)
}

// printOfflineStatus reports the last persisted run when no daemon answers.
func printOfflineStatus(w io.Writer, asJSON bool) error {
	statePath := viper.GetString(FlagStateFile)
	if statePath == "" {
		statePath = config.Default().Paths.State
	}
	resolved, err := daemon.ResolvePaths(config.PathsConfig{State: statePath}, daemon.FindProjectRoot(""))
	if err != nil {
		return err
	}

	st, err := events.LoadState(resolved.State)
	if err != nil {
		if asJSON {
			return writeJSON(w, map[string]string{"status": "not running"})
		}
		fmt.Fprintln(w, "Status: not running")
		return nil
	}
	if asJSON {
		return writeJSON(w, struct {
			Status  string       `json:"status"`
			LastRun events.State `json:"last_run"`
		}{"not running", st})
	}
	fmt.Fprintln(w, "Status: not running")
	fmt.Fprintf(w, "Last run: %s, round %d/%d", st.Status, st.Round, st.TotalRounds)
	if st.Resumable() {
		fmt.Fprint(w, " (resumable with run --resume)")
	}
	fmt.Fprintln(w)
	return nil
}

func printWindows(w io.Writer, resp *daemon.WindowsResponse) {
	fmt.Fprintln(w, "Game windows:")
	if len(resp.Game) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, win := range resp.Game {
		fmt.Fprintf(w, "  %-8d %s\n", win.PID, win.Title)
	}
	fmt.Fprintln(w, "Tool windows:")
	if len(resp.Tool) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, win := range resp.Tool {
		fmt.Fprintf(w, "  %-8d %s\n", win.PID, win.Title)
	}
}

func printAck(w io.Writer, action string, ack *daemon.AckResponse) {
	result := "ok"
	if !ack.OK {
		result = "rejected"
	}
	if ack.Status != "" {
		result += " (" + strings.TrimSpace(ack.Status) + ")"
	}
	fmt.Fprintf(w, "%s: %s\n", action, result)
}
