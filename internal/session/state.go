package session

import "fmt"

// State is the exchange lifecycle of a Session.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies what a Listener is told.
type EventKind int

const (
	// EventIncrement carries a content increment just applied to MessageID.
	EventIncrement EventKind = iota + 1
	// EventCompleted fires once the assistant message is final.
	EventCompleted
	// EventFailed carries the error that ended an exchange.
	EventFailed
	// EventFeedbackPrompt asks the outer surface to show the rating prompt.
	EventFeedbackPrompt
)

// Event is delivered to a Listener outside of any Session lock.
type Event struct {
	Kind           EventKind
	MessageID      string
	Text           string
	ConversationID string
	Err            error
}

// Listener observes a Session. It runs on the goroutine driving the exchange.
type Listener func(Event)
