// ABOUTME: Store interface and data types for relaydesk persistence
// ABOUTME: Defines Conversation, Message, HandoffRequest structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when an entity exists but the requested
// transition is no longer valid (someone else already acted).
var ErrStateConflict = errors.New("state conflict")

// Response authority values for a conversation. Transitions only move
// forward: automated -> handoff_requested -> human_assigned.
const (
	AuthorityAutomated = "automated"
	AuthorityRequested = "handoff_requested"
	AuthorityHuman     = "human_assigned"
)

// Conversation lifecycle status values
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// Message author roles
const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
	RoleOperator  = "operator"
)

// Message feedback values
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// Handoff request status values
const (
	HandoffPending  = "pending"
	HandoffAccepted = "accepted"
	HandoffResolved = "resolved"
)

// TenantAgent is a configured chat persona belonging to a workspace.
// It is the routing scope for dashboard broadcasts and the unit of
// message-credit accounting.
type TenantAgent struct {
	ID             string
	WorkspaceID    string
	Name           string
	Persona        string
	Model          string
	Active         bool
	MessageCredits int
	CreditsResetAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Operator is a human who can accept handoffs and answer conversations.
type Operator struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Conversation is the persistent aggregate root for one chat.
// Customer identity fields are populated opportunistically and never
// overwritten once set. ClientID groups a return visitor's conversations
// across sessions; it is never used for routing.
type Conversation struct {
	ID                 string
	AgentID            string
	SessionID          string
	ClientID           string
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	Status             string
	ResponseAuthority  string
	AssignedOperatorID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Message is append-only and owned by exactly one conversation.
// Feedback and Topic are each settable exactly once after creation.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Body           string
	Feedback       string
	Topic          string
	CreatedAt      time.Time
}

// HandoffRequest tracks one request to move a conversation to a human.
// At most one pending request exists per conversation.
type HandoffRequest struct {
	ID             string
	ConversationID string
	AgentID        string
	Status         string
	Reason         string
	RequestedAt    time.Time
	AcceptedAt     *time.Time
	AcceptedBy     string
	ResolvedAt     *time.Time
}

// TopicStat is a per-agent aggregate of labeled message topics.
type TopicStat struct {
	AgentID      string
	Topic        string
	MessageCount int
	UpdatedAt    time.Time
}

// Analytics summarizes a tenant agent's traffic and feedback.
type Analytics struct {
	TotalConversations int
	TotalMessages      int
	PositiveFeedback   int
	NegativeFeedback   int
}

// ListConversationsParams filters and pages a conversation listing.
type ListConversationsParams struct {
	AgentID   string
	SessionID string // exact session filter (widget history)
	ClientID  string // return-visitor grouping filter (widget history)
	Status    string // optional lifecycle filter
	Limit     int
	Offset    int
}

// Store defines the interface for relaydesk persistence
type Store interface {
	// Tenant agents
	CreateAgent(ctx context.Context, agent *TenantAgent) error
	GetAgent(ctx context.Context, id string) (*TenantAgent, error)
	ReserveCredit(ctx context.Context, agentID string, now time.Time) (int, error)

	// Operators
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperator(ctx context.Context, id string) (*Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetActiveConversationBySession(ctx context.Context, agentID, sessionID string) (*Conversation, error)
	ListConversations(ctx context.Context, params ListConversationsParams) ([]*Conversation, int, error)
	ListConversationsByAuthority(ctx context.Context, agentID, authority string) ([]*Conversation, error)
	UpdateConversationStatus(ctx context.Context, id, status string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
	FillCustomerDetails(ctx context.Context, id, name, email, phone string) (bool, error)
	DeleteEmptyConversations(ctx context.Context, agentID string) (int, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)
	RecentMessages(ctx context.Context, conversationID string, n int) ([]*Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	LastMessageByRole(ctx context.Context, conversationID, role string) (*Message, error)
	SetMessageFeedback(ctx context.Context, id, feedback string) (*Message, error)
	SetMessageTopic(ctx context.Context, id, topic string) (bool, error)

	// Handoff requests
	CreateHandoffRequest(ctx context.Context, req *HandoffRequest) (*HandoffRequest, bool, error)
	GetHandoffRequest(ctx context.Context, id string) (*HandoffRequest, error)
	LatestHandoffRequest(ctx context.Context, conversationID string) (*HandoffRequest, error)
	AcceptHandoffRequest(ctx context.Context, id, operatorID string, at time.Time) (*HandoffRequest, error)
	ResolveHandoffRequest(ctx context.Context, id string, at time.Time) (*HandoffRequest, error)
	ListPendingHandoffRequests(ctx context.Context, agentID string) ([]*HandoffRequest, error)

	// Topic stats
	BumpTopicStat(ctx context.Context, agentID, topic string, at time.Time) error
	ListTopicStats(ctx context.Context, agentID string) ([]*TopicStat, error)

	// Analytics
	AgentAnalytics(ctx context.Context, agentID string) (*Analytics, error)

	// Close releases any resources held by the store
	Close() error
}
