// Package orchestratorStub serves an in-memory imitation of the orchestrator API for
// local development and integration tests. Replies echo the user's message.
package orchestratorStub

import (
	"fmt"
	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/eventStream"
	"mcp-chat/internal/pkg/orchestrator"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// InboundCookieName is set by the inbound callback and required to enable
	// MCPs that need inbound authorization.
	InboundCookieName = "inbound_access"

	EchoMcpId     = "echo"
	CalendarMcpId = "calendar"
	InboundClient = "stub-inbound-client"
)

type stubChat struct {
	userId        string
	createdAt     time.Time
	history       []orchestrator.HistoryMessage
	enabledMcps   []orchestrator.EnabledMcp
	sandboxChecks int
}

type stubTask struct {
	request orchestrator.StartMcpTaskRequest
	polls   int
}

type catalogMcp struct {
	mcp             orchestrator.Mcp
	inboundRequired bool
}

type Stub struct {
	mutex         sync.Mutex
	chats         map[string]*stubChat
	tasks         map[string]*stubTask
	catalog       []catalogMcp
	sandboxChecks int
	taskPolls     int
	chunkDelay    time.Duration
}

type Option func(*Stub)

// WithSandboxChecks sets the number of status checks after which a new sandbox is ready.
func WithSandboxChecks(checks int) Option {
	return func(stub *Stub) {
		stub.sandboxChecks = checks
	}
}

// WithTaskPolls sets the number of polls a task stays pending and running.
func WithTaskPolls(polls int) Option {
	return func(stub *Stub) {
		stub.taskPolls = polls
	}
}

func WithChunkDelay(delay time.Duration) Option {
	return func(stub *Stub) {
		stub.chunkDelay = delay
	}
}

func New(options ...Option) *Stub {
	stub := &Stub{
		chats:         make(map[string]*stubChat),
		tasks:         make(map[string]*stubTask),
		sandboxChecks: 2,
		taskPolls:     2,
		catalog: []catalogMcp{
			{mcp: orchestrator.Mcp{
				Id:          EchoMcpId,
				Name:        "echo",
				Title:       "Echo",
				Description: "Repeats its input",
				Tools:       []orchestrator.McpTool{{Name: "echo", Description: "Returns the text it was given"}},
			}},
			{mcp: orchestrator.Mcp{
				Id:          CalendarMcpId,
				Name:        "calendar",
				Title:       "Calendar",
				Description: "Reads events of the signed in user",
				Tools:       []orchestrator.McpTool{{Name: "list_events"}},
				Config:      orchestrator.McpConfig{Metadata: orchestrator.McpMetadata{Visibility: "private"}},
			}, inboundRequired: true},
		},
	}
	for _, option := range options {
		option(stub)
	}
	return stub
}

// Handler returns the orchestrator routes.
func (instance *Stub) Handler() http.Handler {
	router := chi.NewRouter()

	router.Post("/connect-chat", instance.handleConnectChat)
	router.Post("/sandbox-status", instance.handleSandboxStatus)
	router.Route("/chat/{chatId}", func(r chi.Router) {
		r.Post("/stream", instance.handleStream)
		r.Post("/toggle-mcp", instance.handleToggleMcp)
	})
	router.Get("/user/{userId}/sessions", instance.handleUserSessions)

	router.Get("/mcps", instance.handleListMcps)
	router.Get("/mcps/{mcpId}/inbound-config", instance.handleInboundConfig)
	router.Post("/inbound/callback", instance.handleInboundCallback)

	router.Post("/mcp/tasks/start", instance.handleStartTask)
	router.Get("/mcp/tasks/{taskId}", instance.handleGetTask)

	router.Get("/outbound-apps", instance.handleOutboundApps)
	router.Get("/outbound-apps/{appId}/connected", instance.handleOutboundAppConnected)

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sendJson(w, http.StatusOK, map[string]string{
			"service": "Orchestrator stub",
			"version": "1.0.0",
		})
	})
	return router
}

func (instance *Stub) handleConnectChat(w http.ResponseWriter, r *http.Request) {
	var request orchestrator.ConnectChatRequest
	if err := decode(r, &request); err != nil || request.ChatId == "" {
		sendError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	instance.mutex.Lock()
	chat, ok := instance.chats[request.ChatId]
	if !ok {
		chat = &stubChat{userId: request.UserId, createdAt: time.Now()}
		instance.chats[request.ChatId] = chat
	}
	response := orchestrator.ConnectChatResponse{
		Envelope:      orchestrator.Envelope{Success: true},
		ChatHistory:   slices.Clone(chat.history),
		EnabledMcps:   slices.Clone(chat.enabledMcps),
		SandboxStatus: instance.sandboxStatusLocked(chat),
	}
	instance.mutex.Unlock()

	log.Info().Str("chat_id", request.ChatId).Str("device_id", request.DeviceId).Bool("new", !ok).Msg("chat connected")
	sendJson(w, http.StatusOK, response)
}

func (instance *Stub) sandboxStatusLocked(chat *stubChat) string {
	if chat.sandboxChecks >= instance.sandboxChecks {
		return orchestrator.SandboxStatusReady
	}
	return orchestrator.SandboxStatusCreating
}

func (instance *Stub) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	var request orchestrator.SandboxStatusRequest
	if err := decode(r, &request); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request")
		return
	}

	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	chat, ok := instance.chats[request.ChatId]
	if !ok {
		sendError(w, http.StatusNotFound, "Chat not found")
		return
	}
	chat.sandboxChecks++
	sendJson(w, http.StatusOK, orchestrator.SandboxStatusResponse{
		Envelope:      orchestrator.Envelope{Success: true},
		SandboxStatus: instance.sandboxStatusLocked(chat),
	})
}

// handleStream answers with the user's words, one content event per word. With the echo
// MCP enabled the reply is preceded by an echo tool call.
func (instance *Stub) handleStream(w http.ResponseWriter, r *http.Request) {
	chatId := chi.URLParam(r, "chatId")
	var request orchestrator.StreamChatRequest
	if err := decode(r, &request); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request")
		return
	}

	instance.mutex.Lock()
	chat, ok := instance.chats[chatId]
	echoEnabled := ok && slices.ContainsFunc(chat.enabledMcps, func(mcp orchestrator.EnabledMcp) bool {
		return mcp.Id == EchoMcpId
	})
	instance.mutex.Unlock()
	if !ok {
		sendError(w, http.StatusNotFound, "Chat not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", eventStream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(event map[string]any) bool {
		if instance.chunkDelay > 0 {
			select {
			case <-r.Context().Done():
				return false
			case <-time.After(instance.chunkDelay):
			}
		}
		content, err := sonic.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("sonic.Marshal() failed")
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", content); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	history := []orchestrator.HistoryMessage{{Role: "user", Content: request.Message}}
	if !send(map[string]any{"chunk": "."}) {
		return
	}
	if echoEnabled {
		input := map[string]any{"text": request.Message}
		if !send(map[string]any{"type": "tool", "tool_name": "echo", "state": "input-available", "input": input}) ||
			!send(map[string]any{"type": "tool", "tool_name": "echo", "state": "output-available", "output": request.Message}) {
			return
		}
		history = append(history, orchestrator.HistoryMessage{Role: "tool", ToolName: "echo", State: "output-available", Input: input, Output: request.Message})
	}

	reply := "You said: " + request.Message
	for index, word := range strings.Fields(reply) {
		if index > 0 {
			word = " " + word
		}
		if !send(map[string]any{"type": "content", "content": word}) {
			return
		}
	}
	history = append(history, orchestrator.HistoryMessage{Role: "assistant", Content: reply})

	instance.mutex.Lock()
	chat.history = append(chat.history, history...)
	instance.mutex.Unlock()

	send(map[string]any{"done": true})
}

func (instance *Stub) handleToggleMcp(w http.ResponseWriter, r *http.Request) {
	chatId := chi.URLParam(r, "chatId")
	var request orchestrator.ToggleMcpRequest
	if err := decode(r, &request); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request")
		return
	}

	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	chat, ok := instance.chats[chatId]
	if !ok {
		sendError(w, http.StatusNotFound, "Chat not found")
		return
	}
	index := slices.IndexFunc(instance.catalog, func(entry catalogMcp) bool {
		return entry.mcp.Id == request.McpId
	})
	if index < 0 {
		sendError(w, http.StatusNotFound, "MCP not found")
		return
	}
	entry := instance.catalog[index]

	if request.Enabled && entry.inboundRequired {
		if cookie, err := r.Cookie(InboundCookieName); err != nil || cookie.Value == "" {
			sendJson(w, http.StatusForbidden, orchestrator.ToggleMcpResponse{InboundRequired: true})
			return
		}
	}

	chat.enabledMcps = slices.DeleteFunc(chat.enabledMcps, func(mcp orchestrator.EnabledMcp) bool {
		return mcp.Id == request.McpId
	})
	if request.Enabled {
		chat.enabledMcps = append(chat.enabledMcps, orchestrator.EnabledMcp{Id: entry.mcp.Id, Name: entry.mcp.DisplayName()})
	}
	sendJson(w, http.StatusOK, orchestrator.ToggleMcpResponse{Envelope: orchestrator.Envelope{Success: true}})
}

func (instance *Stub) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userId := chi.URLParam(r, "userId")

	instance.mutex.Lock()
	summaries := []orchestrator.ChatSummary{}
	for chatId, chat := range instance.chats {
		if chat.userId == userId {
			summaries = append(summaries, orchestrator.ChatSummary{ChatId: chatId, CreatedAt: chat.createdAt.Format(time.RFC3339)})
		}
	}
	instance.mutex.Unlock()

	slices.SortFunc(summaries, func(a, b orchestrator.ChatSummary) int {
		return strings.Compare(b.CreatedAt, a.CreatedAt)
	})
	sendJson(w, http.StatusOK, orchestrator.ListUserSessionsResponse{
		Envelope: orchestrator.Envelope{Success: true},
		Sessions: summaries,
	})
}

func (instance *Stub) handleListMcps(w http.ResponseWriter, r *http.Request) {
	instance.mutex.Lock()
	mcps := make([]orchestrator.Mcp, 0, len(instance.catalog))
	for _, entry := range instance.catalog {
		mcps = append(mcps, entry.mcp)
	}
	instance.mutex.Unlock()

	sendJson(w, http.StatusOK, orchestrator.ListMcpsResponse{Envelope: orchestrator.Envelope{Success: true}, Mcps: mcps})
}

func (instance *Stub) handleInboundConfig(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "mcpId") != CalendarMcpId {
		sendError(w, http.StatusNotFound, "MCP has no inbound configuration")
		return
	}
	sendJson(w, http.StatusOK, orchestrator.InboundConfig{ClientId: InboundClient})
}

func (instance *Stub) handleInboundCallback(w http.ResponseWriter, r *http.Request) {
	var request orchestrator.InboundCallbackRequest
	if err := decode(r, &request); err != nil || request.Code == "" || request.CodeVerifier == "" {
		sendError(w, http.StatusBadRequest, "code and code_verifier are required")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     InboundCookieName,
		Value:    uuid.NewString(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Info().Str("mcp_id", request.McpId).Str("client_id", request.ClientId).Msg("inbound code exchanged")
	sendJson(w, http.StatusOK, orchestrator.Envelope{Success: true})
}

func (instance *Stub) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var request orchestrator.StartMcpTaskRequest
	if err := decode(r, &request); err != nil || request.Name == "" || request.McpCommand == "" {
		sendError(w, http.StatusBadRequest, "name and mcpCommand are required")
		return
	}

	taskId := "task_" + uuid.NewString()
	instance.mutex.Lock()
	instance.tasks[taskId] = &stubTask{request: request}
	instance.mutex.Unlock()

	log.Info().Str("task_id", taskId).Str("name", request.Name).Msg("mcp task started")
	sendJson(w, http.StatusOK, orchestrator.StartMcpTaskResponse{
		Envelope: orchestrator.Envelope{Success: true},
		TaskId:   taskId,
	})
}

// handleGetTask moves the task one step forward per poll. A succeeded task adds its MCP
// to the catalog.
func (instance *Stub) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskId := chi.URLParam(r, "taskId")

	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	task, ok := instance.tasks[taskId]
	if !ok {
		sendJson(w, http.StatusOK, orchestrator.GetMcpTaskResponse{Envelope: orchestrator.Envelope{Message: "Task not found"}})
		return
	}

	task.polls++
	status := orchestrator.TaskStatusPending
	message := "queued"
	switch {
	case task.polls > 2*instance.taskPolls:
		status = orchestrator.TaskStatusSucceeded
		message = "validated"
		if task.polls == 2*instance.taskPolls+1 {
			instance.catalog = append(instance.catalog, catalogMcp{mcp: orchestrator.Mcp{
				Id:     taskId,
				Name:   task.request.Name,
				Status: "active",
				Config: orchestrator.McpConfig{Metadata: orchestrator.McpMetadata{
					GeneralEnvNames: task.request.McpEnvNames,
					Visibility:      visibility(task.request.IsPrivate),
				}},
			}})
		}
	case task.polls > instance.taskPolls:
		status = orchestrator.TaskStatusRunning
		message = "building " + task.request.McpCommand
	}

	sendJson(w, http.StatusOK, orchestrator.GetMcpTaskResponse{
		Envelope: orchestrator.Envelope{Success: true},
		Task:     orchestrator.McpTask{Id: taskId, Status: status, Message: message},
	})
}

func visibility(private bool) string {
	if private {
		return "private"
	}
	return "public"
}

func (instance *Stub) handleOutboundApps(w http.ResponseWriter, r *http.Request) {
	sendJson(w, http.StatusOK, orchestrator.ListOutboundAppsResponse{
		Envelope: orchestrator.Envelope{Success: true},
		Apps:     []orchestrator.OutboundApp{{Id: "github", Name: "GitHub"}, {Id: "slack", Name: "Slack"}},
	})
}

func (instance *Stub) handleOutboundAppConnected(w http.ResponseWriter, r *http.Request) {
	connected := chi.URLParam(r, "appId") == "github" && r.Header.Get("Authorization") != ""
	sendJson(w, http.StatusOK, orchestrator.OutboundAppConnectedResponse{Connected: connected})
}

func decode(r *http.Request, target any) error {
	return sonic.ConfigDefault.NewDecoder(r.Body).Decode(target)
}

func sendJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("sonic.Encoder.Encode() failed")
	}
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJson(w, status, orchestrator.Envelope{Message: message})
}
