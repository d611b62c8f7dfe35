package httpHandlers

import (
	"encoding/base64"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/chatSession"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sessions"
)

// UiMessage carries text base64 encoded; the page decodes it and renders markdown.
type UiMessage struct {
	Role       string
	Content    string
	ToolName   string
	ToolState  string
	ToolInput  string
	ToolOutput string
	HasOutput  bool
}

type UiSandbox struct {
	Status  string
	Ready   bool
	Waiting bool
	Error   string
}

type UiChat struct {
	ChatId         string
	Messages       []UiMessage
	Loading        bool
	Processing     bool
	Error          string
	ConnectionLost bool
	Sandbox        UiSandbox
	EnabledMcps    []orchestrator.EnabledMcp
	SignedIn       bool
}

type UiPage struct {
	Chat          UiChat
	ConnectChatId string
	AuthError     string
}

type UiMcp struct {
	Id          string
	Name        string
	Description string
	Tools       []string
	Visibility  string
	Enabled     bool
}

type UiMcps struct {
	Mcps      []UiMcp
	Error     string
	Connected bool
}

type UiTasks struct {
	Running []orchestrator.McpTask
	Error   string
}

type UiSessions struct {
	Sessions []orchestrator.ChatSummary
	Current  string
	Error    string
}

type UiIntegrations struct {
	Integrations []orchestrator.Integration
	Error        string
}

func encode(text string) string {
	if text == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(text))
}

func prettyJson(value any) string {
	if value == nil {
		return ""
	}
	content, err := sonic.ConfigStd.MarshalIndent(value, "", "  ")
	if err != nil {
		log.Debug().Err(err).Msg("sonic.MarshalIndent() failed")
		return ""
	}
	return string(content)
}

func toUiMessage(message chatSession.ChatMessage) UiMessage {
	switch typed := message.(type) {
	case chatSession.UserMessage:
		return UiMessage{Role: string(chatSession.RoleUser), Content: encode(typed.Content)}
	case chatSession.AssistantMessage:
		return UiMessage{Role: string(chatSession.RoleAssistant), Content: encode(typed.Content)}
	case chatSession.ToolMessage:
		return UiMessage{
			Role:       string(chatSession.RoleTool),
			ToolName:   typed.ToolName,
			ToolState:  string(typed.State),
			ToolInput:  prettyJson(typed.Input),
			ToolOutput: prettyJson(typed.Output),
			HasOutput:  typed.Output != nil,
		}
	}
	return UiMessage{}
}

func ToUiChat(session *sessions.Session, snapshot chatSession.Snapshot) UiChat {
	uiChat := UiChat{
		ChatId:      session.ChatId(),
		Messages:    make([]UiMessage, 0, len(snapshot.Messages)),
		Loading:     snapshot.Loading,
		Processing:  snapshot.Processing,
		EnabledMcps: session.EnabledMcps(),
		SignedIn:    session.Token() != "",
	}
	for _, message := range snapshot.Messages {
		uiChat.Messages = append(uiChat.Messages, toUiMessage(message))
	}
	if snapshot.Err != nil {
		uiChat.Error = snapshot.Err.Message
		uiChat.ConnectionLost = snapshot.Err.Kind == chatSession.ErrorKindConnectionLost
	}

	sandbox := session.Sandbox()
	uiChat.Sandbox = UiSandbox{
		Status:  sandbox.Status,
		Ready:   sandbox.Ready(),
		Waiting: sandbox.Waiting,
		Error:   sandbox.Error,
	}
	return uiChat
}

func ToUiMcps(mcps []orchestrator.Mcp, session *sessions.Session) UiMcps {
	uiMcps := UiMcps{Mcps: make([]UiMcp, 0, len(mcps)), Connected: session.ChatId() != ""}
	for _, mcp := range mcps {
		uiMcp := UiMcp{
			Id:          mcp.Id,
			Name:        mcp.DisplayName(),
			Description: mcp.Description,
			Visibility:  mcp.Config.Metadata.Visibility,
			Enabled:     session.McpEnabled(mcp.Id),
		}
		if uiMcp.Visibility == "" {
			uiMcp.Visibility = "public"
		}
		for _, tool := range mcp.Tools {
			uiMcp.Tools = append(uiMcp.Tools, tool.Name)
		}
		uiMcps.Mcps = append(uiMcps.Mcps, uiMcp)
	}
	return uiMcps
}
