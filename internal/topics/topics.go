// ABOUTME: Background topic labeling - a buffered worker classifies messages off the chat path
// ABOUTME: Labels apply once per message; the per-agent aggregate only counts first-time labels

package topics

import (
	"context"
	"log/slog"
	"time"

	"github.com/openhelm/relaydesk/internal/store"
)

// Classifier names the high-level subject of one message, e.g.
// "Billing" or "Technical Issue". Implementations are model-backed.
type Classifier interface {
	ClassifyTopic(ctx context.Context, text string) (string, error)
}

type job struct {
	agentID   string
	messageID string
	text      string
}

// Labeler classifies message topics in the background so the chat flow
// never waits on a model call.
type Labeler struct {
	store      store.Store
	classifier Classifier
	jobs       chan job
	done       chan struct{}
	timeout    time.Duration
	logger     *slog.Logger
}

// New starts a Labeler with one worker goroutine. classifier may be
// nil, which turns Enqueue into a no-op.
func New(s store.Store, classifier Classifier, logger *slog.Logger) *Labeler {
	l := &Labeler{
		store:      s,
		classifier: classifier,
		jobs:       make(chan job, 256),
		done:       make(chan struct{}),
		timeout:    15 * time.Second,
		logger:     logger.With("component", "topics"),
	}
	go l.run()
	return l
}

// Enqueue schedules a message for labeling. When the queue is full the
// job is dropped; topic stats are advisory and must not apply
// backpressure to chat.
func (l *Labeler) Enqueue(agentID, messageID, text string) {
	if l.classifier == nil {
		return
	}
	select {
	case l.jobs <- job{agentID: agentID, messageID: messageID, text: text}:
	default:
		l.logger.Warn("topic queue full, dropping job", "message_id", messageID)
	}
}

// Close stops the worker after draining queued jobs.
func (l *Labeler) Close() {
	close(l.jobs)
	<-l.done
}

func (l *Labeler) run() {
	defer close(l.done)
	for j := range l.jobs {
		l.process(j)
	}
}

func (l *Labeler) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	topic, err := l.classifier.ClassifyTopic(ctx, j.text)
	if err != nil {
		l.logger.Warn("topic classification failed", "message_id", j.messageID, "error", err)
		return
	}
	if topic == "" {
		return
	}

	set, err := l.store.SetMessageTopic(ctx, j.messageID, topic)
	if err != nil {
		l.logger.Warn("storing topic failed", "message_id", j.messageID, "error", err)
		return
	}
	if !set {
		// Already labeled; do not double-count
		return
	}
	if err := l.store.BumpTopicStat(ctx, j.agentID, topic, time.Now()); err != nil {
		l.logger.Warn("bumping topic stat failed", "agent_id", j.agentID, "error", err)
		return
	}
	l.logger.Debug("message labeled", "message_id", j.messageID, "topic", topic)
}
