package events

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxMessageLength  = 100
	truncateIndicator = "..."
)

// Format converts an event to a human-readable string for display.
// Returns empty string for nil or unknown event types.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *RunStartEvent:
		return formatRunStart(e)
	case *RunStopEvent:
		return formatRunStop(e)
	case *RunCompleteEvent:
		return fmt.Sprintf("[+] task complete: %d/%d rounds", e.Rounds, e.TotalRounds)
	case *RunStateChangedEvent:
		return fmt.Sprintf("state: %s -> %s", SafeString(e.From), SafeString(e.To))
	case *RunResetEvent:
		return fmt.Sprintf("round counter reset (was %d)", e.PreviousRound)
	case *RoundStartEvent:
		return formatRoundStart(e)
	case *SessionProbeEvent:
		return formatSessionProbe(e)
	case *HeartbeatErrorEvent:
		return fmt.Sprintf("[?] round %d: probe failed (%d in a row): %s",
			e.Round, e.Consecutive, Truncate(e.Error, maxMessageLength))
	case *PostActionEvent:
		return formatPostAction(e)
	case *StreamConnectedEvent:
		return fmt.Sprintf("stream connected: %s", SafeString(e.SessionID))
	case *StreamDisconnectedEvent:
		return formatStreamDisconnected(e)
	case *ErrorEvent:
		return formatError(e)
	default:
		return ""
	}
}

// FormatWithTimestamp formats an event with a timestamp prefix.
func FormatWithTimestamp(event Event) string {
	if event == nil {
		return ""
	}
	ts := event.Timestamp().Format("15:04:05")
	detail := Format(event)
	if detail == "" {
		return fmt.Sprintf("[%s] %s", ts, event.Type())
	}
	return fmt.Sprintf("[%s] %s", ts, detail)
}

func formatRunStart(e *RunStartEvent) string {
	if e.Continued {
		return fmt.Sprintf("run continued: %s, %d rounds", SafeString(e.Mode), e.TotalRounds)
	}
	return fmt.Sprintf("run started: %s, %d rounds", SafeString(e.Mode), e.TotalRounds)
}

func formatRunStop(e *RunStopEvent) string {
	reason := SafeString(e.Reason)
	if reason != "" {
		return fmt.Sprintf("run stopped at round %d: %s", e.Round, reason)
	}
	return fmt.Sprintf("run stopped at round %d", e.Round)
}

func formatRoundStart(e *RoundStartEvent) string {
	switch e.Reason {
	case RoundRetry:
		return fmt.Sprintf("[!] round %d: session never entered, retrying", e.Round)
	case RoundAdvance:
		return fmt.Sprintf("[>] round advanced to %d", e.Round)
	default:
		return fmt.Sprintf("[>] round %d started", e.Round)
	}
}

func formatSessionProbe(e *SessionProbeEvent) string {
	switch e.Phase {
	case PhaseEntered:
		return fmt.Sprintf("round %d: entered", e.Round)
	case PhaseInProgress:
		return fmt.Sprintf("round %d: in progress", e.Round)
	case PhaseWaiting:
		return fmt.Sprintf("round %d: waiting for entry", e.Round)
	case PhaseEnded:
		return fmt.Sprintf("round %d: ended", e.Round)
	default:
		return fmt.Sprintf("round %d: active=%t", e.Round, e.Active)
	}
}

func formatPostAction(e *PostActionEvent) string {
	action := SafeString(e.Action)
	if !e.Success {
		return fmt.Sprintf("[x] post action %s failed: %s", action, Truncate(e.Error, maxMessageLength))
	}
	return fmt.Sprintf("[+] post action %s issued", action)
}

func formatStreamDisconnected(e *StreamDisconnectedEvent) string {
	reason := SafeString(e.Reason)
	if reason != "" {
		return fmt.Sprintf("stream disconnected: %s", Truncate(reason, maxMessageLength))
	}
	return "stream disconnected"
}

func formatError(e *ErrorEvent) string {
	msg := SafeString(e.Message)
	severity := SafeString(e.Severity)
	if severity == "" {
		severity = SeverityError
	}
	return fmt.Sprintf("%s: %s", strings.ToUpper(severity), Truncate(msg, maxMessageLength))
}

// Truncate shortens text to maxLen, adding indicator if truncated.
func Truncate(s string, maxLen int) string {
	s = SafeString(s)
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncateIndicator) {
		return truncateIndicator
	}
	return s[:maxLen-len(truncateIndicator)] + truncateIndicator
}

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SafeString sanitizes a string for display by removing control characters
// and limiting newlines.
func SafeString(s string) string {
	s = StripANSI(s)

	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == ' ' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}

	// Collapse multiple spaces
	result := sb.String()
	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}

	return strings.TrimSpace(result)
}
