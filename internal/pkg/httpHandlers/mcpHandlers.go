package httpHandlers

import (
	"context"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/inboundAuth"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sessions"
	"mcp-chat/internal/pkg/web"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func (instance *ChatHandlers) Mcps(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}
	return instance.renderMcps(request.Context(), session, "")
}

func (instance *ChatHandlers) renderMcps(ctx context.Context, session *sessions.Session, message string) *web.Response {
	mcps, err := session.Client.ListMcps(ctx, session.Token())
	if err != nil {
		log.Error().Err(err).Msg("orchestrator.Client.ListMcps() failed")
		return web.RenderResponse(http.StatusOK, instance.templates, mcpsTemplate, UiMcps{Error: errorMessage(err)}, nil)
	}

	uiMcps := ToUiMcps(mcps, session)
	uiMcps.Error = message
	return web.RenderResponse(http.StatusOK, instance.templates, mcpsTemplate, uiMcps, nil)
}

// EnableMcp toggles an MCP for the current chat. When the MCP needs inbound
// authorization first, the browser is sent to the authorization server and the toggle
// is repeated after the callback.
func (instance *ChatHandlers) EnableMcp(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	if err := request.ParseForm(); err != nil {
		log.Error().Err(err).Msg("http.Request.ParseForm() failed")
		return web.GetEmptyResponse(http.StatusBadRequest, nil)
	}

	mcpId := chi.URLParam(request, "id")
	chatId := session.ChatId()
	if mcpId == "" || chatId == "" {
		return instance.renderMcps(request.Context(), session, "Connect to a chat before enabling tools.")
	}

	enabled := true
	if value := request.Form.Get("enabled"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return web.GetEmptyResponse(http.StatusBadRequest, nil)
		}
		enabled = parsed
	}

	ctx := request.Context()
	toggleResponse, err := session.Client.ToggleMcp(ctx, session.Token(), chatId, orchestrator.ToggleMcpRequest{McpId: mcpId, Enabled: enabled})
	if enabled && toggleResponse.InboundRequired {
		return instance.beginInboundLogin(ctx, session, mcpId, chatId)
	}
	if err == nil && !toggleResponse.Success {
		message := toggleResponse.Message
		if message == "" {
			message = "failed to toggle MCP"
		}
		err = &orchestrator.ApiError{Message: message}
	}
	if err != nil {
		log.Error().Err(err).Str("mcp_id", mcpId).Msg("orchestrator.Client.ToggleMcp() failed")
		return instance.renderMcps(ctx, session, errorMessage(err))
	}

	session.SetMcpEnabled(orchestrator.EnabledMcp{Id: mcpId, Name: request.Form.Get("name")}, enabled)
	instance.publishChat(session)
	return instance.renderMcps(ctx, session, "")
}

func (instance *ChatHandlers) beginInboundLogin(ctx context.Context, session *sessions.Session, mcpId string, chatId string) *web.Response {
	clientId := ""
	inboundConfig, err := session.Client.InboundConfig(ctx, mcpId)
	if err != nil {
		log.Warn().Err(err).Str("mcp_id", mcpId).Msg("inbound config unavailable, using the default client id")
	} else {
		clientId = inboundConfig.ClientId
	}

	authorizeUrl, err := instance.dependencies.Authenticator.BeginLogin(session.Id.String(), inboundAuth.LoginRequest{
		McpId:    mcpId,
		ChatId:   chatId,
		ClientId: clientId,
	})
	if err != nil {
		log.Error().Err(err).Str("mcp_id", mcpId).Msg("inboundAuth.BeginLogin() failed")
		return instance.renderMcps(ctx, session, errorMessage(err))
	}
	return web.HxRedirect(authorizeUrl, nil)
}

// InboundCallback completes the authorization started by EnableMcp, performs the
// pending toggle and always ends on the chat page.
func (instance *ChatHandlers) InboundCallback(request *http.Request) *web.Response {
	session, _ := instance.requestSession(request)
	if session == nil {
		return web.Redirect(chatPage)
	}

	ctx := request.Context()
	userId, _ := session.UserId()
	toggle, err := instance.dependencies.Authenticator.HandleCallback(ctx, session.Id.String(), session.Client, inboundAuth.CallbackRequest{
		Query:     request.URL.Query(),
		AuthToken: session.Token(),
		UserId:    userId,
	})
	if err != nil {
		log.Warn().Err(err).Msg("inbound callback failed")
		return web.Redirect(chatPage + "?auth_error=" + url.QueryEscape(callbackErrorMessage(err)))
	}
	if toggle == nil {
		return web.Redirect(chatPage)
	}

	toggleResponse, err := session.Client.ToggleMcp(ctx, session.Token(), toggle.ChatId, orchestrator.ToggleMcpRequest{McpId: toggle.McpId, Enabled: true})
	switch {
	case err != nil:
		log.Warn().Err(err).Str("mcp_id", toggle.McpId).Msg("pending toggle failed")
	case toggleResponse.Success && session.ChatId() == toggle.ChatId:
		session.SetMcpEnabled(orchestrator.EnabledMcp{Id: toggle.McpId}, true)
	}

	return web.Redirect(chatPage + "?chat_id=" + url.QueryEscape(toggle.ChatId))
}

func (instance *ChatHandlers) OutboundApps(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	integrations, err := session.Client.Integrations(request.Context(), session.Token())
	if err != nil {
		log.Error().Err(err).Msg("orchestrator.Client.Integrations() failed")
		return web.RenderResponse(http.StatusOK, instance.templates, outboundTemplate, UiIntegrations{Error: errorMessage(err)}, nil)
	}
	return web.RenderResponse(http.StatusOK, instance.templates, outboundTemplate, UiIntegrations{Integrations: integrations}, nil)
}

// Tasks polls the MCP tasks started from this device once. The page repeats the request.
func (instance *ChatHandlers) Tasks(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}
	return instance.renderTasks(request.Context(), session, "")
}

func (instance *ChatHandlers) renderTasks(ctx context.Context, session *sessions.Session, message string) *web.Response {
	result, err := instance.dependencies.TaskPoller.Poll(ctx, session.DeviceId)
	if err != nil {
		log.Error().Err(err).Msg("mcpTasks.Poller.Poll() failed")
		return web.RenderResponse(http.StatusOK, instance.templates, tasksTemplate, UiTasks{Error: err.Error()}, nil)
	}

	var headers web.Headers
	if len(result.RemovedIds) > 0 {
		headers = web.Headers{"HX-Trigger": "{\"mcpsChanged\":\"\"}"}
	}
	return web.RenderResponse(http.StatusOK, instance.templates, tasksTemplate, UiTasks{Running: result.Running, Error: message}, headers)
}

// StartTask asks the orchestrator to build and validate a new MCP and remembers the task
// for this device.
func (instance *ChatHandlers) StartTask(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	if err := request.ParseForm(); err != nil {
		log.Error().Err(err).Msg("http.Request.ParseForm() failed")
		return web.GetEmptyResponse(http.StatusBadRequest, nil)
	}

	startRequest := orchestrator.StartMcpTaskRequest{
		Name:            strings.TrimSpace(request.Form.Get("name")),
		StartupCommands: lines(request.Form.Get("startup_commands")),
		EnvVars:         envVars(request.Form.Get("env_vars")),
		McpEnvNames:     strings.Fields(request.Form.Get("mcp_env_names")),
		IsPrivate:       request.Form.Get("is_private") != "",
		McpCommand:      strings.TrimSpace(request.Form.Get("mcp_command")),
		McpArgs:         strings.Fields(request.Form.Get("mcp_args")),
	}
	ctx := request.Context()
	if startRequest.Name == "" || startRequest.McpCommand == "" {
		return instance.renderTasks(ctx, session, "Name and command are required.")
	}

	taskId, err := session.Client.StartMcpTask(ctx, session.Token(), startRequest)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator.Client.StartMcpTask() failed")
		return instance.renderTasks(ctx, session, errorMessage(err))
	}
	if err := instance.dependencies.StateStore.AddPendingTask(ctx, session.DeviceId, taskId); err != nil {
		log.Error().Err(err).Msg("stateStore.AddPendingTask() failed")
	}

	log.Info().Str("task_id", taskId).Str("name", startRequest.Name).Msg("mcp task started")
	return instance.renderTasks(ctx, session, "")
}

func (instance *ChatHandlers) Sessions(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	uiSessions := UiSessions{Current: session.ChatId()}
	userId, err := session.UserId()
	if err != nil {
		return web.RenderResponse(http.StatusOK, instance.templates, sessionsTemplate, uiSessions, nil)
	}

	summaries, err := session.Client.ListUserSessions(request.Context(), session.Token(), userId)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator.Client.ListUserSessions() failed")
		uiSessions.Error = errorMessage(err)
	}
	uiSessions.Sessions = summaries
	return web.RenderResponse(http.StatusOK, instance.templates, sessionsTemplate, uiSessions, nil)
}

func callbackErrorMessage(err error) string {
	if errors.Is(err, inboundAuth.ErrInvalidCallback) {
		return "Invalid OAuth callback parameters"
	}
	return "Authorization failed: " + errorMessage(err)
}

func lines(value string) []string {
	result := []string{}
	for _, line := range strings.Split(value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return result
}

// envVars parses KEY=VALUE lines.
func envVars(value string) []orchestrator.EnvVar {
	result := []orchestrator.EnvVar{}
	for _, line := range lines(value) {
		key, envValue, _ := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); key != "" {
			result = append(result, orchestrator.EnvVar{Key: key, Value: strings.TrimSpace(envValue)})
		}
	}
	return result
}
