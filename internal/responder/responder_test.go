// ABOUTME: Tests for the built-in generator and handoff phrase classifier
// ABOUTME: Chunks must reassemble into the done event's full text

package responder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGeneratorChunksReassemble(t *testing.T) {
	g := &StaticGenerator{Reply: "hello there, how can I help?"}
	events, err := g.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)

	var b strings.Builder
	var done *Event
	for ev := range events {
		switch ev.Type {
		case EventChunk:
			b.WriteString(ev.Text)
		case EventDone:
			done = ev
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "hello there, how can I help?", b.String())
	assert.Equal(t, done.Text, b.String())
	assert.False(t, done.OfferHandoff)
}

func TestStaticGeneratorOfferHandoff(t *testing.T) {
	g := &StaticGenerator{Reply: "I am not sure about that.", OfferHandoff: true}
	events, err := g.Generate(context.Background(), &Request{Message: "???"})
	require.NoError(t, err)

	var done *Event
	for ev := range events {
		if ev.Type == EventDone {
			done = ev
		}
	}
	require.NotNil(t, done)
	assert.True(t, done.OfferHandoff)
}

func TestMentionsHandoff(t *testing.T) {
	assert.True(t, MentionsHandoff("Let me connect you with a Customer Service team member."))
	assert.True(t, MentionsHandoff("A representative can help with that."))
	assert.False(t, MentionsHandoff("Your order ships on Tuesday."))
}

// blockingGenerator never produces until its context is cancelled.
type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _ *Request) (<-chan *Event, error) {
	out := make(chan *Event, 1)
	go func() {
		defer close(out)
		<-ctx.Done()
		out <- &Event{Type: EventError, Err: ctx.Err().Error()}
	}()
	return out, nil
}

func TestWithTimeoutCancelsStalledGeneration(t *testing.T) {
	g := WithTimeout(blockingGenerator{}, 20*time.Millisecond)
	events, err := g.Generate(context.Background(), &Request{Message: "hi"})
	require.NoError(t, err)

	var last *Event
	for ev := range events {
		last = ev
	}
	require.NotNil(t, last)
	assert.Equal(t, EventError, last.Type)
}

func TestWithTimeoutZeroIsPassThrough(t *testing.T) {
	g := &StaticGenerator{Reply: "hi"}
	assert.Equal(t, Generator(g), WithTimeout(g, 0))
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}
	ctx := context.Background()

	for _, msg := range []string{
		"I want to talk to a human",
		"Can I SPEAK TO AN AGENT please",
		"connect me with customer service",
		"give me a real person",
	} {
		got, err := c.RequestsHuman(ctx, msg)
		require.NoError(t, err)
		assert.True(t, got, msg)
	}

	for _, msg := range []string{
		"where is my order",
		"this bot is useless",
		"what are your opening hours",
	} {
		got, err := c.RequestsHuman(ctx, msg)
		require.NoError(t, err)
		assert.False(t, got, msg)
	}
}
