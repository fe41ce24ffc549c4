// ABOUTME: Built-in generator and classifier used without a model backend
// ABOUTME: StaticGenerator streams a fixed reply; KeywordClassifier matches handoff phrases

package responder

import (
	"context"
	"strings"
)

// StaticGenerator streams a fixed reply in small chunks. It serves
// deployments without a model backend and the relay tests.
type StaticGenerator struct {
	Reply        string
	OfferHandoff bool
}

// Generate emits the configured reply word by word, then a done event
// with the assembled text.
func (g *StaticGenerator) Generate(ctx context.Context, req *Request) (<-chan *Event, error) {
	out := make(chan *Event, 16)
	go func() {
		defer close(out)
		for i, w := range strings.Fields(g.Reply) {
			if i > 0 {
				w = " " + w
			}
			select {
			case <-ctx.Done():
				out <- &Event{Type: EventError, Err: ctx.Err().Error()}
				return
			case out <- &Event{Type: EventChunk, Text: w}:
			}
		}
		out <- &Event{Type: EventDone, Text: g.Reply, OfferHandoff: g.OfferHandoff}
	}()
	return out, nil
}

// handoffPhrases are substrings that mark an explicit request for a
// person. A model-backed Classifier can replace this for
// language-agnostic detection.
var handoffPhrases = []string{
	"talk to a human",
	"talk to a person",
	"speak to a human",
	"speak to a person",
	"speak with a human",
	"speak to an agent",
	"speak with an agent",
	"talk to an agent",
	"human agent",
	"real person",
	"customer service representative",
	"connect me with",
	"transfer me",
	"speak to someone",
	"talk to someone",
}

// KeywordClassifier flags messages containing an explicit ask for a
// human representative.
type KeywordClassifier struct{}

// RequestsHuman reports whether the message contains a handoff phrase.
func (KeywordClassifier) RequestsHuman(_ context.Context, message string) (bool, error) {
	lower := strings.ToLower(message)
	for _, p := range handoffPhrases {
		if strings.Contains(lower, p) {
			return true, nil
		}
	}
	return false, nil
}
