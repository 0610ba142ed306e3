package testutil

import (
	"io"
	"strings"
)

// SSEStream builds a text/event-stream body for stream client tests.
type SSEStream struct {
	Frames []string
}

// NewSSEStream creates a stream with one data frame per payload.
func NewSSEStream(payloads ...string) *SSEStream {
	s := &SSEStream{}
	for _, p := range payloads {
		s.AddData(p)
	}
	return s
}

// AddData appends a "data:" frame.
func (s *SSEStream) AddData(payload string) {
	s.Frames = append(s.Frames, "data: "+payload+"\n\n")
}

// AddComment appends a comment frame, which clients must ignore.
func (s *SSEStream) AddComment(text string) {
	s.Frames = append(s.Frames, ": "+text+"\n\n")
}

// String returns the whole body.
func (s *SSEStream) String() string {
	return strings.Join(s.Frames, "")
}

// Reader returns the body as a reader.
func (s *SSEStream) Reader() io.Reader {
	return strings.NewReader(s.String())
}
