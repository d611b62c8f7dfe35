package chatSession

import (
	"context"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/eventStream"
	"mcp-chat/internal/pkg/orchestrator"
)

// Snapshot is a copy of a session's state, safe to keep after the session changes.
type Snapshot struct {
	Messages   []ChatMessage
	Loading    bool
	Processing bool
	Streaming  bool
	Err        *SessionError
}

type ResponseFunc func(snapshot Snapshot)

type SendRequest struct {
	Text     string
	ChatId   string
	DeviceId string
	UserId   string
	Tokens   authToken.Provider
}

// Streamer opens the chat event stream. *orchestrator.Client implements it.
type Streamer interface {
	StreamChat(ctx context.Context, token string, chatId string, request orchestrator.StreamChatRequest, handler eventStream.HandlerFunc) error
}

type ChatSession interface {
	// SendMessage appends the user message and starts a new stream, aborting the
	// stream in flight. Blank text is ignored.
	SendMessage(request SendRequest) error
	// ResetChat aborts the stream in flight and clears everything.
	ResetChat()
	// LoadHistory aborts the stream in flight and replaces the message list.
	LoadHistory(messages []ChatMessage)
	// ClearError dismisses the session error.
	ClearError()
	Snapshot() Snapshot
	Shutdown()
}

// MessagesFromHistory converts connect-chat history. Entries with an unknown role or a
// tool entry without a tool name are skipped.
func MessagesFromHistory(history []orchestrator.HistoryMessage) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history))
	for _, entry := range history {
		switch Role(entry.Role) {
		case RoleUser:
			messages = append(messages, UserMessage{Content: entry.Content})
		case RoleAssistant:
			messages = append(messages, AssistantMessage{Content: entry.Content})
		case RoleTool:
			if entry.ToolName == "" {
				continue
			}
			messages = append(messages, newToolMessage(StreamEvent{
				ToolName: entry.ToolName,
				State:    ToolState(entry.State),
				Input:    entry.Input,
				Output:   entry.Output,
			}))
		}
	}
	return messages
}
