// Cadence terminal client: a line-oriented interface over the session
// and sequence synchronization core.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/client"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/localstore"
	"github.com/cadencehq/cadence/internal/state"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
)

const replyPollInterval = 200 * time.Millisecond

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	serverURL := getEnv("SERVER_URL", "http://localhost:8080")
	dbPath := getEnv("CLIENT_DB_PATH", "./data/client.db")

	local, err := localstore.New(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to open local cache:", err)
		os.Exit(1)
	}
	defer local.Close()

	backend := client.NewREST(serverURL)
	app := state.NewApp(backend, local, wsURL(serverURL),
		state.WithConnectionListener(func(s state.ConnectionState, status string) {
			if status != "" {
				fmt.Println("\n[connection]", status)
			}
		}))

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to start:", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg := app.Config(); cfg != nil && cfg.Title != "" {
		fmt.Println(cfg.Title)
		if cfg.Subtitle != "" {
			fmt.Println(cfg.Subtitle)
		}
	}
	fmt.Println("Type /help for commands, or just type to chat.")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(prompt(app))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, os.ErrClosed) {
				return
			}
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(ctx, app, input); quit {
				return
			}
			continue
		}

		sendAndWait(ctx, app, input)
	}
}

func prompt(app *state.App) string {
	name := "?"
	active := app.ActiveSessionID()
	for _, s := range app.Sessions() {
		if s.ID == active {
			name = s.Name
			break
		}
	}
	return fmt.Sprintf("[%s] > ", name)
}

// runCommand dispatches a slash command; returns true on /quit.
func runCommand(ctx context.Context, app *state.App, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		printHelp()
	case "/quit", "/exit":
		return true
	case "/sessions":
		printSessions(app)
	case "/new":
		sess := app.NewSession(ctx)
		fmt.Println("Created session", sess.ID)
	case "/switch":
		if len(args) != 1 {
			fmt.Println("Usage: /switch <session-id>")
			return false
		}
		app.SwitchSession(resolveSession(app, args[0]))
	case "/rename":
		if len(args) < 1 {
			fmt.Println("Usage: /rename <new name> (renames the active session)")
			return false
		}
		app.RenameSession(app.ActiveSessionID(), strings.Join(args, " "))
	case "/delete":
		if len(args) != 1 {
			fmt.Println("Usage: /delete <session-id>")
			return false
		}
		app.DeleteSession(ctx, resolveSession(app, args[0]))
	case "/history":
		printHistory(app)
	case "/seq":
		printSequence(app)
	case "/edit":
		if len(args) < 3 {
			fmt.Println("Usage: /edit <step-id> <field> <value>")
			return false
		}
		if err := app.EditSequenceField(args[0], args[1], strings.Join(args[2:], " ")); err != nil {
			fmt.Println("Edit failed:", err)
		}
	case "/addstep":
		id, err := app.AddSequenceStep()
		if err != nil {
			fmt.Println("Add failed:", err)
			return false
		}
		fmt.Println("Added step", id)
	case "/rmstep":
		if len(args) != 1 {
			fmt.Println("Usage: /rmstep <step-id>")
			return false
		}
		if err := app.RemoveSequenceStep(args[0]); err != nil {
			fmt.Println("Remove failed:", err)
		}
	case "/save":
		if err := app.SaveSequence(ctx); err != nil {
			fmt.Println("Save failed:", err)
		} else {
			fmt.Println("Sequence saved.")
		}
	case "/reset":
		if err := app.ResetSequence(ctx); err != nil {
			fmt.Println("Reset failed:", err)
		} else {
			fmt.Println("Sequence cleared.")
		}
	case "/status":
		connState, status := app.Connection()
		fmt.Println("Connection:", connState)
		if status != "" {
			fmt.Println(" ", status)
		}
		if tool := app.ToolState(); tool.Running {
			fmt.Println("Tool running:", tool.Tool)
		} else if tool.Err != "" {
			fmt.Println("Last tool error:", tool.Err)
		}
	case "/retry":
		app.RetryConnection()
	default:
		fmt.Println("Unknown command", cmd, "- type /help")
	}
	return false
}

// sendAndWait dispatches a chat message and blocks until the assistant
// reply lands (or the wait times out).
func sendAndWait(ctx context.Context, app *state.App, text string) {
	if err := app.SendMessage(ctx, text); err != nil {
		fmt.Println("Send failed:", err)
		return
	}

	deadline := time.Now().Add(3 * time.Minute)
	for app.Generating() {
		if time.Now().After(deadline) {
			fmt.Println("Still waiting for a reply; it will appear in /history.")
			return
		}
		time.Sleep(replyPollInterval)
	}

	messages := app.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleAssistant {
			fmt.Println(messages[i].Content)
			return
		}
	}
}

func printHelp() {
	fmt.Print(`Commands:
  /sessions              list sessions (newest first, * marks active)
  /new                   create and switch to a new session
  /switch <id>           switch the active session
  /rename <name>         rename the active session
  /delete <id>           delete a session
  /history               show the active transcript
  /seq                   show the sequence for the active session
  /edit <step> <f> <v>   edit a step field (subject|message|channel|timing|day)
  /addstep               append a step
  /rmstep <step>         remove a step
  /save                  validate and save the sequence
  /reset                 clear the sequence
  /status                connection and tool state
  /retry                 retry after connection failure
  /quit                  exit
Anything else is sent as a chat message.
`)
}

func printSessions(app *state.App) {
	active := app.ActiveSessionID()
	for _, s := range app.Sessions() {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, s.ID, s.Name)
	}
}

func printHistory(app *state.App) {
	for _, m := range app.Messages() {
		if m.Streaming {
			fmt.Println("assistant: ...")
			continue
		}
		fmt.Printf("%s: %s\n", m.Role, m.Content)
	}
}

func printSequence(app *state.App) {
	doc := app.Sequence()
	if doc == nil {
		fmt.Println("No sequence yet. Ask the assistant to generate one.")
		return
	}
	fmt.Println(doc.Title)
	for _, step := range doc.Steps {
		fmt.Printf("  [%s] step %d, day %d (%s, %s)\n", step.ID, step.StepNumber, step.Day, step.Channel, step.Timing)
		if step.Subject != "" {
			fmt.Println("    Subject:", step.Subject)
		}
		for _, l := range strings.Split(step.Message, "\n") {
			fmt.Println("   ", l)
		}
	}
}

// resolveSession allows unambiguous id prefixes in commands.
func resolveSession(app *state.App, arg string) string {
	var match string
	for _, s := range app.Sessions() {
		if s.ID == arg {
			return arg
		}
		if strings.HasPrefix(s.ID, arg) {
			if match != "" {
				return arg
			}
			match = s.ID
		}
	}
	if match != "" {
		return match
	}
	return arg
}

func wsURL(serverURL string) string {
	ws := strings.Replace(serverURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return strings.TrimSuffix(ws, "/") + "/ws"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
