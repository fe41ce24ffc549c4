// ABOUTME: Opportunistic customer identity extraction from chat messages
// ABOUTME: Email and phone via regex, name via a pluggable extractor; fields fill once and stay

package details

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openhelm/relaydesk/internal/store"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	letter       = regexp.MustCompile(`[A-Za-zÀ-ÿ]`)
)

// ExtractEmail returns the first email address in text, lowercased.
func ExtractEmail(text string) string {
	return strings.ToLower(emailPattern.FindString(text))
}

// ExtractPhone returns the first phone-like number in text.
func ExtractPhone(text string) string {
	return strings.TrimSpace(phonePattern.FindString(text))
}

// NameExtractor pulls a person's name out of free text when they
// introduce themselves. Implementations are typically model-backed so
// they work in any language.
type NameExtractor interface {
	ExtractName(ctx context.Context, text string) (string, error)
}

// validName filters extractor output to something plausibly a name.
func validName(name string) bool {
	return len(name) >= 2 && len(name) <= 100 && letter.MatchString(name)
}

// Extractor fills conversation identity fields from customer messages.
type Extractor struct {
	store   store.Store
	names   NameExtractor // may be nil
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Extractor. names may be nil, in which case only email
// and phone are extracted.
func New(s store.Store, names NameExtractor, logger *slog.Logger) *Extractor {
	return &Extractor{
		store:   s,
		names:   names,
		timeout: 10 * time.Second,
		logger:  logger.With("component", "details"),
	}
}

// Scan extracts identity details from one message and stores whatever
// is still unset on the conversation. Populated fields never change.
// Errors are logged, not returned; extraction must never block chat.
func (e *Extractor) Scan(ctx context.Context, conv *store.Conversation, messageText string) {
	var email, phone, name string
	if conv.CustomerEmail == "" {
		email = ExtractEmail(messageText)
	}
	if conv.CustomerPhone == "" {
		phone = ExtractPhone(messageText)
	}
	if conv.CustomerName == "" && e.names != nil {
		n, err := e.names.ExtractName(ctx, messageText)
		if err != nil {
			e.logger.Debug("name extraction failed", "error", err)
		} else {
			n = strings.Join(strings.Fields(n), " ")
			if validName(n) {
				name = n
			}
		}
	}

	if email == "" && phone == "" && name == "" {
		return
	}
	changed, err := e.store.FillCustomerDetails(ctx, conv.ID, name, email, phone)
	if err != nil {
		e.logger.Warn("storing customer details failed",
			"conversation_id", conv.ID, "error", err)
		return
	}
	if changed {
		e.logger.Info("customer details updated", "conversation_id", conv.ID)
	}
}

// ScanAsync runs Scan in the background with its own timeout, detached
// from the request context so a closing websocket doesn't cancel it.
func (e *Extractor) ScanAsync(conv *store.Conversation, messageText string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		e.Scan(ctx, conv, messageText)
	}()
}
