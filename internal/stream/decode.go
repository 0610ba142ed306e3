package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npratt/gamepilot/internal/store"
)

// Event types routed by the client.
const (
	TypeLog     = "log"
	TypeVehicle = "vehicle"
)

// ErrMissingType is returned for payloads without a type field.
var ErrMissingType = errors.New("event has no type")

// Message is one decoded stream event: LogMessage, SnapshotMessage or
// UnknownMessage.
type Message interface {
	// Raw returns the undecoded envelope.
	Raw() store.Event
}

// LogMessage carries one telemetry log record.
type LogMessage struct {
	Envelope store.Event
	Record   store.LogRecord
}

// Raw implements Message.
func (m LogMessage) Raw() store.Event { return m.Envelope }

// SnapshotMessage carries a full activity snapshot.
type SnapshotMessage struct {
	Envelope store.Event
	Snapshot store.ActivitySnapshot
}

// Raw implements Message.
func (m SnapshotMessage) Raw() store.Event { return m.Envelope }

// UnknownMessage is any event type the client does not route.
type UnknownMessage struct {
	Envelope store.Event
}

// Raw implements Message.
func (m UnknownMessage) Raw() store.Event { return m.Envelope }

// Decode parses one event payload. Payloads printed as Python literals
// (single quotes, bare integer keys, None/True/False) are accepted too.
func Decode(data []byte) (Message, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeLog:
		var rec store.LogRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode log data: %w", err)
		}
		if rec.Level == "" {
			rec.Level = store.LevelInfo
		}
		return LogMessage{Envelope: env, Record: rec}, nil
	case TypeVehicle:
		var snap store.ActivitySnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, fmt.Errorf("decode vehicle data: %w", err)
		}
		return SnapshotMessage{Envelope: env, Snapshot: snap}, nil
	default:
		return UnknownMessage{Envelope: env}, nil
	}
}

func decodeEnvelope(data []byte) (store.Event, error) {
	var env store.Event
	err := json.Unmarshal(data, &env)
	if err != nil {
		env = store.Event{}
		if lerr := json.Unmarshal(normalizeLiteral(data), &env); lerr != nil {
			return store.Event{}, fmt.Errorf("decode event: %w", err)
		}
	}
	if env.Type == "" {
		return store.Event{}, ErrMissingType
	}
	return env, nil
}

// pyConstants maps Python constants to their JSON spelling.
var pyConstants = map[string]string{
	"None":  "null",
	"True":  "true",
	"False": "false",
}

// normalizeLiteral rewrites a Python dict literal into JSON. Quoted strings
// are re-quoted but their contents are left alone, so only tokens outside
// strings are rewritten.
func normalizeLiteral(data []byte) []byte {
	out := make([]byte, 0, len(data)+16)
	var last byte // last non-space byte written outside a string
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '\'' || c == '"':
			out, i = appendQuoted(out, data, i)
			last = '"'
		case isDigit(c) || (c == '-' && i+1 < len(data) && isDigit(data[i+1])):
			j := i + 1
			for j < len(data) && isDigit(data[j]) {
				j++
			}
			if (last == '{' || last == ',') && nextNonSpace(data, j) == ':' {
				out = append(out, '"')
				out = append(out, data[i:j]...)
				out = append(out, '"')
			} else {
				out = append(out, data[i:j]...)
			}
			last = data[j-1]
			i = j
		case isIdent(c):
			j := i + 1
			for j < len(data) && (isIdent(data[j]) || isDigit(data[j])) {
				j++
			}
			word := string(data[i:j])
			if js, ok := pyConstants[word]; ok {
				out = append(out, js...)
			} else {
				out = append(out, word...)
			}
			last = data[j-1]
			i = j
		default:
			out = append(out, c)
			if !isSpace(c) {
				last = c
			}
			i++
		}
	}
	return out
}

// appendQuoted copies the string literal starting at data[start] to out as a
// JSON string and returns the index just past its closing quote.
func appendQuoted(out, data []byte, start int) ([]byte, int) {
	quote := data[start]
	out = append(out, '"')
	for i := start + 1; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			if data[i] == '\'' {
				out = append(out, '\'')
			} else {
				out = append(out, '\\', data[i])
			}
		case c == quote:
			return append(out, '"'), i + 1
		case c == '"':
			out = append(out, '\\', '"')
		default:
			out = append(out, c)
		}
	}
	return out, len(data)
}

func nextNonSpace(data []byte, i int) byte {
	for ; i < len(data); i++ {
		if !isSpace(data[i]) {
			return data[i]
		}
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdent(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
