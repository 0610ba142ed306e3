package events

import (
	"strings"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"nil", nil, ""},
		{"run start", &RunStartEvent{Mode: "collab", TotalRounds: 6}, "run started: collab, 6 rounds"},
		{"run continued", &RunStartEvent{Mode: "moon_island", TotalRounds: 4, Continued: true}, "run continued: moon_island, 4 rounds"},
		{"run stop", &RunStopEvent{Round: 2}, "run stopped at round 2"},
		{"run stop with reason", &RunStopEvent{Round: 2, Reason: "operator"}, "run stopped at round 2: operator"},
		{"complete", &RunCompleteEvent{Rounds: 6, TotalRounds: 6}, "[+] task complete: 6/6 rounds"},
		{"state change", &RunStateChangedEvent{From: "idle", To: "starting"}, "state: idle -> starting"},
		{"reset", &RunResetEvent{PreviousRound: 3}, "round counter reset (was 3)"},
		{"round initial", &RoundStartEvent{Round: 1, Reason: RoundInitial}, "[>] round 1 started"},
		{"round advance", &RoundStartEvent{Round: 2, Reason: RoundAdvance}, "[>] round advanced to 2"},
		{"round retry", &RoundStartEvent{Round: 2, Reason: RoundRetry}, "[!] round 2: session never entered, retrying"},
		{"probe entered", &SessionProbeEvent{Round: 1, Phase: PhaseEntered}, "round 1: entered"},
		{"probe in progress", &SessionProbeEvent{Round: 1, Phase: PhaseInProgress}, "round 1: in progress"},
		{"probe waiting", &SessionProbeEvent{Round: 1, Phase: PhaseWaiting}, "round 1: waiting for entry"},
		{"probe ended", &SessionProbeEvent{Round: 1, Phase: PhaseEnded}, "round 1: ended"},
		{"probe unknown phase", &SessionProbeEvent{Round: 1, Active: true}, "round 1: active=true"},
		{"heartbeat error", &HeartbeatErrorEvent{Round: 2, Consecutive: 3, Error: "connection refused"}, "[?] round 2: probe failed (3 in a row): connection refused"},
		{"post action ok", &PostActionEvent{Action: "follow_up", Success: true}, "[+] post action follow_up issued"},
		{"post action failed", &PostActionEvent{Action: "power_off", Error: "503"}, "[x] post action power_off failed: 503"},
		{"stream connected", &StreamConnectedEvent{SessionID: "4242"}, "stream connected: 4242"},
		{"stream disconnected", &StreamDisconnectedEvent{}, "stream disconnected"},
		{"stream disconnected reason", &StreamDisconnectedEvent{Reason: "EOF"}, "stream disconnected: EOF"},
		{"error default severity", &ErrorEvent{Message: "boom"}, "ERROR: boom"},
		{"warning", &ErrorEvent{Message: "slow", Severity: SeverityWarning}, "WARNING: slow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.event); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatSanitizesFields(t *testing.T) {
	got := Format(&StreamConnectedEvent{SessionID: "\x1b[31m42\n42\x1b[0m"})
	if got != "stream connected: 42 42" {
		t.Errorf("Format() = %q", got)
	}
}

func TestFormatTruncatesLongErrors(t *testing.T) {
	got := Format(&ErrorEvent{Message: strings.Repeat("x", 300)})
	if !strings.HasSuffix(got, truncateIndicator) {
		t.Errorf("expected truncated message, got %q", got)
	}
	if len(got) > len("ERROR: ")+maxMessageLength {
		t.Errorf("message too long: %d", len(got))
	}
}

func TestFormatWithTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 2, 14, 30, 45, 0, time.Local)

	ev := &RunResetEvent{BaseEvent: BaseEvent{EventType: EventRunReset, Time: ts}, PreviousRound: 1}
	if got := FormatWithTimestamp(ev); got != "[14:30:45] round counter reset (was 1)" {
		t.Errorf("got %q", got)
	}

	if got := FormatWithTimestamp(nil); got != "" {
		t.Errorf("nil event: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSafeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\x1b[1mbold\x1b[0m", "bold"},
		{"a\nb\r\nc", "a b c"},
		{"  many   spaces  ", "many spaces"},
		{"bell\x07", "bell"},
	}
	for _, tt := range tests {
		if got := SafeString(tt.in); got != tt.want {
			t.Errorf("SafeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
