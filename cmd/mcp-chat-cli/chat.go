package main

import (
	"bufio"
	"context"
	"fmt"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"mcp-chat/internal/pkg/chatSession"
	"mcp-chat/internal/pkg/clientIds"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sandbox"
	"os"
	"os/signal"
	"strings"
)

func newChatCommand() *cobra.Command {
	var chatId string
	var prompt string

	command := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a chat and talk to it",
		Long: `Connects to the chat given by --chat-id, or a new one, waits for its sandbox and
reads messages from stdin. With --prompt a single message is sent.

Interactive commands: /reset clears the conversation, /exit quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runChat(ctx, chatId, prompt)
		},
	}
	command.Flags().StringVar(&chatId, "chat-id", "", "chat to connect to, a new chat when empty")
	command.Flags().StringVarP(&prompt, "prompt", "p", "", "send a single message and exit")
	return command
}

func runChat(ctx context.Context, chatId string, prompt string) error {
	cli, err := openCliContext(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	userId, err := cli.userId(ctx)
	if err != nil {
		return fmt.Errorf("a session token is required to chat: %w", err)
	}
	if chatId == "" {
		chatId = clientIds.NewChatId()
	}

	connectResponse, err := cli.client.ConnectChat(ctx, cli.token(ctx), orchestrator.ConnectChatRequest{
		ChatId:   chatId,
		UserId:   userId,
		DeviceId: cli.deviceId,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s\n", chatId)
	for _, mcp := range connectResponse.EnabledMcps {
		fmt.Printf("  tool enabled: %s\n", mcp.Name)
	}

	if connectResponse.SandboxStatus != orchestrator.SandboxStatusReady {
		fmt.Println("Setting up sandbox...")
		if err := sandbox.New(cli.client).WaitReady(ctx, chatId, userId, cli.tokens); err != nil {
			return err
		}
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("glamour.NewTermRenderer() failed: %w", err)
	}

	changed := make(chan struct{}, 1)
	session := chatSession.New(cli.client, func(chatSession.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer session.Shutdown()

	history := chatSession.MessagesFromHistory(connectResponse.ChatHistory)
	session.LoadHistory(history)
	printMessages(renderer, history)

	turn := func(text string) error {
		before := len(session.Snapshot().Messages)
		err := session.SendMessage(chatSession.SendRequest{
			Text:     text,
			ChatId:   chatId,
			DeviceId: cli.deviceId,
			UserId:   userId,
			Tokens:   cli.tokens,
		})
		if err != nil {
			return err
		}

		snapshot := waitForTurn(ctx, session, changed)
		if len(snapshot.Messages) > before+1 {
			printMessages(renderer, snapshot.Messages[before+1:])
		}
		if snapshot.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", snapshot.Err.Message)
		}
		return ctx.Err()
	}

	if prompt != "" {
		return turn(prompt)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			session.ResetChat()
			fmt.Println("Conversation cleared.")
			continue
		}

		if err := turn(text); err != nil {
			return err
		}
	}
}

// waitForTurn returns the session state once the stream of the current message ended.
func waitForTurn(ctx context.Context, session chatSession.ChatSession, changed <-chan struct{}) chatSession.Snapshot {
	for {
		if snapshot := session.Snapshot(); !snapshot.Loading {
			return snapshot
		}
		select {
		case <-ctx.Done():
			return session.Snapshot()
		case <-changed:
		}
	}
}

func printMessages(renderer *glamour.TermRenderer, messages []chatSession.ChatMessage) {
	for _, message := range messages {
		switch typed := message.(type) {
		case chatSession.UserMessage:
			fmt.Printf("You: %s\n", typed.Content)
		case chatSession.AssistantMessage:
			rendered, err := renderer.Render(typed.Content)
			if err != nil {
				log.Debug().Err(err).Msg("glamour.TermRenderer.Render() failed")
				rendered = typed.Content + "\n"
			}
			fmt.Print(rendered)
		case chatSession.ToolMessage:
			fmt.Printf("Tool %s: %s\n", typed.ToolName, typed.State)
		}
	}
}
