// ABOUTME: Handoff notifications - composes a markdown summary, renders HTML, hands to a Mailer
// ABOUTME: Delivery is best-effort; a failed notification never fails the handoff itself

package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/openhelm/relaydesk/internal/store"
)

// Mailer delivers one rendered notification. Implementations wrap SMTP,
// a ticketing system, or whatever the workspace uses.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// LogMailer logs notifications instead of delivering them. It is the
// default when no mailer is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.Logger.Info("notification (log only)", "to", to, "subject", subject)
	return nil
}

// Notifier tells operators about new handoff requests.
type Notifier struct {
	mailer Mailer
	to     string
	logger *slog.Logger
}

// New creates a Notifier delivering to the given address.
func New(mailer Mailer, to string, logger *slog.Logger) *Notifier {
	return &Notifier{
		mailer: mailer,
		to:     to,
		logger: logger.With("component", "notify"),
	}
}

// HandoffRequested sends a notification about a new pending request.
// Failures are logged, never returned; the handoff must not depend on
// the mail path.
func (n *Notifier) HandoffRequested(ctx context.Context, agent *store.TenantAgent, conv *store.Conversation, req *store.HandoffRequest, lastMessage string) {
	if n.mailer == nil || n.to == "" {
		return
	}

	subject := fmt.Sprintf("Handoff requested: %s", agent.Name)
	html, err := renderHandoffBody(agent, conv, req, lastMessage)
	if err != nil {
		n.logger.Error("rendering notification failed", "error", err)
		return
	}
	if err := n.mailer.Send(ctx, n.to, subject, html); err != nil {
		n.logger.Error("sending notification failed",
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	n.logger.Info("handoff notification sent", "request_id", req.ID, "to", n.to)
}

func renderHandoffBody(agent *store.TenantAgent, conv *store.Conversation, req *store.HandoffRequest, lastMessage string) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# Handoff requested\n\n")
	fmt.Fprintf(&md, "A customer of **%s** is waiting for a person.\n\n", agent.Name)
	fmt.Fprintf(&md, "- Conversation: `%s`\n", conv.ID)
	fmt.Fprintf(&md, "- Requested: %s\n", req.RequestedAt.UTC().Format(time.RFC3339))
	if req.Reason != "" {
		fmt.Fprintf(&md, "- Reason: %s\n", req.Reason)
	}
	if conv.CustomerName != "" {
		fmt.Fprintf(&md, "- Customer: %s\n", conv.CustomerName)
	}
	if conv.CustomerEmail != "" {
		fmt.Fprintf(&md, "- Email: %s\n", conv.CustomerEmail)
	}
	if lastMessage != "" {
		fmt.Fprintf(&md, "\n> %s\n", lastMessage)
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return html.String(), nil
}
