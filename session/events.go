package session

import "github.com/room4-2/OpenInterpreter/messages"

// Event is one lifecycle or protocol occurrence on the stream client.
// The orchestrator consumes these from Events() instead of registering
// callbacks, so it can be driven by synthetic events in tests.
type Event interface {
	sessionEvent()
}

// Opened fires after the transport opens and the init configuration has
// been queued.
type Opened struct{}

// Closed fires when the transport closes. Intentional distinguishes a
// requested disconnect from a dropped connection; an unintentional close
// is followed by reconnect attempts while any remain.
type Closed struct {
	Intentional bool
}

// MessageReceived carries one parsed server message, delivered strictly
// in arrival order.
type MessageReceived struct {
	Msg messages.Server
}

// Failure reports a transport-level error, a server rejection, or
// reconnect exhaustion. It does not itself imply the transport closed; a
// Closed event follows when it does.
type Failure struct {
	Err error
}

func (Opened) sessionEvent()          {}
func (Closed) sessionEvent()          {}
func (MessageReceived) sessionEvent() {}
func (Failure) sessionEvent()         {}
