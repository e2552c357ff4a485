// Package eventstream decodes the AWS Event Stream binary framing used by
// the upstream assistant service and demultiplexes its typed events into a
// normalized event sequence for the SSE encoders.
package eventstream

// Frame is one decoded wire message: its headers and raw JSON payload.
type Frame struct {
	Headers map[string]string
	Payload []byte
}

// Well-known header names.
const (
	headerEventType     = ":event-type"
	headerMessageType   = ":message-type"
	headerExceptionType = ":exception-type"
)

// EventType returns the ":event-type" header value, if any.
func (f *Frame) EventType() string { return f.Headers[headerEventType] }

// MessageType returns the ":message-type" header value. Normal events carry
// "event"; upstream faults carry "exception".
func (f *Frame) MessageType() string { return f.Headers[headerMessageType] }

// ExceptionType returns the ":exception-type" header value, if any.
func (f *Frame) ExceptionType() string { return f.Headers[headerExceptionType] }
