// ABOUTME: Admin CLI for relaydesk tenant and operator management
// ABOUTME: Operates directly on the sqlite store; run it on the server host

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/openhelm/relaydesk/internal/auth"
	"github.com/openhelm/relaydesk/internal/config"
	"github.com/openhelm/relaydesk/internal/store"
)

const banner = `
           _                 _           _              _           _
 _ __ ___ | | __ _ _   _  __| | ___  ___| | __     __ _| |_ __ ___ (_)_ __
| '__/ _ \| |/ _' | | | |/ _' |/ _ \/ __| |/ /____/ _' | | '_ ' _ \| | '_ \
| | |  __/| | (_| | |_| | (_| |  __/\__ \   <_____| (_| | | | | | | | | | |
|_|  \___||_|\__,_|\__, |\__,_|\___||___/_|\_\     \__,_|_|_| |_| |_|_|_| |_|
                   |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "agents":
		err = cmdAgents(ctx, args)
	case "operators":
		err = cmdOperators(ctx, args)
	case "handoffs":
		err = cmdHandoffs(ctx, args)
	case "conversations":
		err = cmdConversations(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: relaydesk-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  agents create --name NAME [--persona TEXT] [--credits N]   Create a tenant agent")
	fmt.Println("  operators create --username NAME --email ADDR              Create an operator")
	fmt.Println("  handoffs pending <agent-id>                                List pending handoff requests")
	fmt.Println("  handoffs accept <request-id> --operator <operator-id>      Accept a pending request")
	fmt.Println("  conversations tail <conversation-id> [--limit N]           Show the latest messages")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  RELAYDESK_CONFIG   Config file path (default: ~/.config/relaydesk/relaydesk.yaml)")
	fmt.Println()
}

func openStore() (store.Store, error) {
	configPath := os.Getenv("RELAYDESK_CONFIG")
	if configPath == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("finding home directory: %w", err)
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		configPath = filepath.Join(configDir, "relaydesk", "relaydesk.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

// parseFlag reads "--name value" and "--name=value" forms.
func parseFlag(args []string, name string) string {
	for i, arg := range args {
		if arg == "--"+name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--"+name+"=") {
			return strings.TrimPrefix(arg, "--"+name+"=")
		}
	}
	return ""
}

func cmdAgents(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: relaydesk-admin agents create --name NAME")
	}

	name := strings.TrimSpace(parseFlag(args, "name"))
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	credits := 0
	if v := parseFlag(args, "credits"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &credits); err != nil {
			return fmt.Errorf("invalid --credits value: %s", v)
		}
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	now := time.Now()
	agent := &store.TenantAgent{
		ID:             uuid.New().String(),
		WorkspaceID:    parseFlag(args, "workspace"),
		Name:           name,
		Persona:        parseFlag(args, "persona"),
		Model:          parseFlag(args, "model"),
		Active:         true,
		MessageCredits: credits,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created agent: %s\n", name)
	fmt.Printf("  ID: %s\n", agent.ID)
	fmt.Printf("\nWidget endpoint: /ws/%s?session_id=<session>\n", agent.ID)
	return nil
}

func cmdOperators(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: relaydesk-admin operators create --username NAME --email ADDR")
	}

	username := strings.TrimSpace(parseFlag(args, "username"))
	email := strings.TrimSpace(parseFlag(args, "email"))
	if username == "" || email == "" {
		return fmt.Errorf("--username and --email are required")
	}

	password := parseFlag(args, "password")
	if password == "" {
		// Generate one rather than prompting; it prints once below
		password = uuid.New().String()[:13]
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	op := &store.Operator{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := s.CreateOperator(ctx, op); err != nil {
		return fmt.Errorf("creating operator: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created operator: %s\n", username)
	fmt.Printf("  ID:       %s\n", op.ID)
	fmt.Printf("  Password: %s\n", password)
	color.Yellow("\n  Store this password now; it is not shown again.\n")
	return nil
}

func cmdHandoffs(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: relaydesk-admin handoffs <pending|accept> ...")
	}
	switch args[0] {
	case "pending":
		return cmdHandoffsPending(ctx, args[1])
	case "accept":
		operatorID := parseFlag(args, "operator")
		if operatorID == "" {
			return fmt.Errorf("--operator is required")
		}
		return cmdHandoffsAccept(ctx, args[1], operatorID)
	default:
		return fmt.Errorf("usage: relaydesk-admin handoffs <pending|accept> ...")
	}
}

func cmdHandoffsPending(ctx context.Context, agentID string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	reqs, err := s.ListPendingHandoffRequests(ctx, agentID)
	if err != nil {
		return fmt.Errorf("listing handoff requests: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("No pending handoff requests.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tCONVERSATION\tREQUESTED\tREASON")
	for _, r := range reqs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.ID, r.ConversationID, r.RequestedAt.UTC().Format(time.RFC3339), r.Reason)
	}
	return w.Flush()
}

func cmdHandoffsAccept(ctx context.Context, requestID, operatorID string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.AcceptHandoffRequest(ctx, requestID, operatorID, time.Now())
	if err != nil {
		return fmt.Errorf("accepting handoff request: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Accepted request %s\n", req.ID)
	fmt.Printf("  Conversation: %s\n", req.ConversationID)
	fmt.Printf("  Operator:     %s\n", operatorID)
	return nil
}

func cmdConversations(ctx context.Context, args []string) error {
	if len(args) < 2 || args[0] != "tail" {
		return fmt.Errorf("usage: relaydesk-admin conversations tail <conversation-id>")
	}
	conversationID := args[1]
	limit := 10
	if v := parseFlag(args, "limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			return fmt.Errorf("invalid --limit value: %s", v)
		}
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	msgs, err := s.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, m := range msgs {
		gray.Printf("%s ", m.CreatedAt.UTC().Format("15:04:05"))
		switch m.Role {
		case store.RoleCustomer:
			color.New(color.FgYellow).Printf("%-9s ", m.Role)
		case store.RoleOperator:
			color.New(color.FgGreen).Printf("%-9s ", m.Role)
		default:
			color.New(color.FgCyan).Printf("%-9s ", m.Role)
		}
		fmt.Println(m.Body)
	}
	return nil
}
