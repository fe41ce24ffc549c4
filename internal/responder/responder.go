// ABOUTME: Response generation contract - streaming generator and explicit-handoff classifier
// ABOUTME: Generators emit chunk events then a final done event carrying the assembled text

package responder

import (
	"context"
	"strings"
)

// Turn is one prior message handed to the generator as context.
type Turn struct {
	Role string
	Body string
}

// Request carries everything a generator needs for one reply.
type Request struct {
	AgentID        string
	ConversationID string
	Persona        string
	Model          string
	Message        string
	History        []Turn
}

// EventType indicates the kind of generation event.
type EventType int

const (
	EventChunk EventType = iota
	EventDone
	EventError
)

// Event is one step of a streamed generation. EventChunk carries a text
// fragment; EventDone carries the full assembled response and the
// handoff recommendation; EventError ends the stream.
type Event struct {
	Type         EventType
	Text         string
	OfferHandoff bool
	Err          string
}

// Generator produces a streamed reply. The returned channel is closed
// after EventDone or EventError. Generators must keep draining their
// upstream even if the consumer stops reading early.
type Generator interface {
	Generate(ctx context.Context, req *Request) (<-chan *Event, error)
}

// Classifier decides whether a customer message explicitly asks for a
// human representative, independent of what the generator produces.
type Classifier interface {
	RequestsHuman(ctx context.Context, message string) (bool, error)
}

// Canned texts used when a conversation moves toward a human.
const (
	// HandoffAckText replaces the generated reply when the customer
	// explicitly asked for a person.
	HandoffAckText = "I understand you'd like to speak with a customer service representative. Let me connect you with someone who can help you better."

	// HandoffOfferSuffix is appended when the generator recommends a
	// handoff but its reply never mentions one.
	HandoffOfferSuffix = "\n\nWould you like me to connect you with a customer service representative who can help you better?"

	// WaitForOperatorText acknowledges messages that arrive while a
	// handoff request is pending.
	WaitForOperatorText = "Thank you for your message. A representative will respond shortly."
)

// MentionsHandoff reports whether a generated reply already brings up a
// human handoff, so HandoffOfferSuffix is only appended when it doesn't.
func MentionsHandoff(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "customer service") || strings.Contains(lower, "representative")
}
