package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
)

var flagPersona string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal chat against a local orchestrator",
	Long: `Chat from the terminal without running a server.

The orchestrator runs in-process against the configured provider and
store. Type a message and watch the reply stream in; a few slash
commands are available:

  /persona <id>               switch persona for the next conversation
  /debate <topic> <a> <b>     run a three-round debate between two personas
  /quit                       exit

Example:
  parleyd chat -f parleyd.yaml --persona scholar`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagPersona, "persona", chat.DefaultPersonaID, "persona id for the conversation")
	rootCmd.AddCommand(chatCmd)
}

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	speakerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	chipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// consoleEmitter renders frames for a terminal session.
type consoleEmitter struct{}

func (consoleEmitter) Emit(eventType string, data any) error {
	switch eventType {
	case turn.EventToken:
		if s, ok := data.(string); ok {
			fmt.Print(s)
		}
	case turn.EventSpeaker:
		if s, ok := data.(string); ok {
			fmt.Printf("\n%s\n", speakerStyle.Render(s+":"))
		}
	case turn.EventUpgradeRequired:
		if ev, ok := data.(turn.UpgradeRequiredEvent); ok {
			fmt.Printf("\n%s\n", noticeStyle.Render(ev.Message))
		}
	case turn.EventImage:
		if ev, ok := data.(turn.ImageEvent); ok {
			fmt.Printf("\n%s\n", noticeStyle.Render("[image] "+ev.ImageURL))
		}
	case turn.EventSuggestions:
		if ss, ok := data.([]string); ok {
			fmt.Printf("\n%s\n", chipStyle.Render("try: "+strings.Join(ss, " | ")))
		}
	case turn.EventError:
		if ev, ok := data.(turn.ErrorEvent); ok {
			fmt.Printf("\n%s\n", errorStyle.Render("error: "+ev.Error))
		}
	case turn.EventComplete:
		fmt.Println()
	}
	return nil
}

func (consoleEmitter) Close() error { return nil }

func runChat(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	orch, closeStore, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	conv, err := orch.Store.CreateConversation(ctx, "", flagPersona, "terminal session")
	if err != nil {
		return err
	}
	// The terminal session is local; no per-session cap applies.
	orch.AnonTurnLimit = 1 << 30
	caller := turn.Caller{SessionID: "terminal"}

	fmt.Println(noticeStyle.Render("parleyd chat - /quit to exit"))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil

		case strings.HasPrefix(line, "/persona "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/persona "))
			conv, err = orch.Store.CreateConversation(ctx, "", id, "terminal session")
			if err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				continue
			}
			fmt.Println(noticeStyle.Render("new conversation with persona " + id))

		case strings.HasPrefix(line, "/debate "):
			fields := strings.Fields(strings.TrimPrefix(line, "/debate "))
			if len(fields) < 3 {
				fmt.Println(errorStyle.Render("usage: /debate <topic> <personaA> <personaB>"))
				continue
			}
			a, b := fields[len(fields)-2], fields[len(fields)-1]
			topic := strings.Join(fields[:len(fields)-2], " ")
			p, err := orch.PrepareDebate(ctx, caller, &turn.DebateRequest{
				ConversationID: conv.ID, Topic: topic, PersonaA: a, PersonaB: b,
			})
			if err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				continue
			}
			orch.RunDebate(ctx, p, consoleEmitter{})

		default:
			p, err := orch.Prepare(ctx, caller, &turn.Request{ConversationID: conv.ID, Content: line})
			if err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				continue
			}
			orch.Run(ctx, p, consoleEmitter{})
		}
	}
	return scanner.Err()
}
