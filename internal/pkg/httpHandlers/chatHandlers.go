package httpHandlers

import (
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"html/template"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/chatSession"
	"mcp-chat/internal/pkg/clientIds"
	"mcp-chat/internal/pkg/cookies"
	"mcp-chat/internal/pkg/inboundAuth"
	"mcp-chat/internal/pkg/mcpTasks"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sessions"
	"mcp-chat/internal/pkg/stateStore"
	"mcp-chat/internal/pkg/web"
	"mcp-chat/internal/pkg/websocketServer"
	"net/http"
	"strings"
)

const (
	chatTemplate     = "chat.gohtml"
	mainTemplate     = "main.gohtml"
	mcpsTemplate     = "mcps.gohtml"
	tasksTemplate    = "tasks.gohtml"
	sessionsTemplate = "sessions.gohtml"
	outboundTemplate = "outbound-apps.gohtml"

	chatPage = "/chat"
)

type ClientFactory func() (*orchestrator.Client, error)

type Dependencies struct {
	NewClient     ClientFactory
	Authenticator *inboundAuth.Authenticator
	SandboxWaiter sessions.SandboxWaiter
	StateStore    stateStore.StateStore
	TaskPoller    *mcpTasks.Poller
	// AuthCookieName names the cookie holding the identity provider's session token.
	AuthCookieName string
	// DevToken is used for browsers that present no session token.
	DevToken string
}

type ChatHandlers struct {
	templates          *template.Template
	notificationServer websocketServer.WebsocketServer
	sessionManager     *sessions.SessionManager
	dependencies       Dependencies
}

func New(templates *template.Template, sessionManager *sessions.SessionManager,
	notificationServer websocketServer.WebsocketServer, dependencies Dependencies) *ChatHandlers {
	if dependencies.AuthCookieName == "" {
		dependencies.AuthCookieName = authToken.DefaultCookieName
	}
	return &ChatHandlers{
		templates:          templates,
		sessionManager:     sessionManager,
		notificationServer: notificationServer,
		dependencies:       dependencies,
	}
}

// Main serves the chat page, creating the browser session and device id on first visit.
func (instance *ChatHandlers) Main(request *http.Request) *web.Response {
	var responseCookies []*http.Cookie

	id := cookies.GetIdFromCookie(request)
	session := instance.sessionManager.GetSession(id)
	if session == nil {
		deviceId := cookies.GetDeviceIdFromCookie(request)
		if deviceId == "" {
			deviceId = clientIds.NewDeviceId()
		}

		var err error
		session, err = instance.newSession(deviceId)
		if err != nil {
			log.Error().Err(err).Msg("httpHandlers.newSession() failed")
			return web.GetEmptyResponse(http.StatusInternalServerError, nil)
		}
		responseCookies = append(responseCookies, cookies.SetIdToCookie(session.Id), cookies.SetDeviceIdToCookie(deviceId))
	}
	instance.touch(session, request)

	page := UiPage{
		Chat:          ToUiChat(session, session.Chat.Snapshot()),
		ConnectChatId: request.URL.Query().Get("chat_id"),
		AuthError:     request.URL.Query().Get("auth_error"),
	}
	if page.ConnectChatId == "" && page.Chat.ChatId == "" {
		page.ConnectChatId = clientIds.NewChatId()
	}

	headers := web.Headers{"HX-Trigger-After-Swap": "{\"parseAllRawMessages\":\"\"}"}
	return web.RenderResponse(http.StatusOK, instance.templates, mainTemplate, page, headers, responseCookies...)
}

func (instance *ChatHandlers) newSession(deviceId string) (*sessions.Session, error) {
	client, err := instance.dependencies.NewClient()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	session := sessions.NewSession(id, deviceId, client, instance.chatResponseHandler(id))
	if err := instance.sessionManager.AddSession(session); err != nil {
		session.Shutdown()
		return nil, err
	}
	log.Info().Str("session_id", id.String()).Str("device_id", deviceId).Msg("browser session created")
	return session, nil
}

func (instance *ChatHandlers) touch(session *sessions.Session, request *http.Request) {
	token := authToken.FromRequest(request, instance.dependencies.AuthCookieName)
	if token == "" {
		token = instance.dependencies.DevToken
	}
	session.SetToken(token)
}

// requestSession returns the browser session of an API request or a response to send
// when there is none.
func (instance *ChatHandlers) requestSession(request *http.Request) (*sessions.Session, *web.Response) {
	id := cookies.GetIdFromCookie(request)
	if id == uuid.Nil {
		return nil, web.GetEmptyResponse(http.StatusBadRequest, nil)
	}

	session := instance.sessionManager.GetSession(id)
	if session == nil {
		// The server restarted or the session expired; reload the page for a new one.
		return nil, web.HxRedirect(chatPage, nil)
	}
	instance.touch(session, request)
	return session, nil
}

func (instance *ChatHandlers) renderChat(session *sessions.Session, headers web.Headers) *web.Response {
	return web.RenderResponse(http.StatusOK, instance.templates, chatTemplate, ToUiChat(session, session.Chat.Snapshot()), headers)
}

// Connect opens the chat named by the chat_id form value, or a new chat.
func (instance *ChatHandlers) Connect(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	if err := request.ParseForm(); err != nil {
		log.Error().Err(err).Msg("http.Request.ParseForm() failed")
		return web.GetEmptyResponse(http.StatusBadRequest, nil)
	}

	chatId := strings.TrimSpace(request.Form.Get("chat_id"))
	if chatId == "" {
		chatId = clientIds.NewChatId()
	}
	return instance.connect(request, session, chatId)
}

// Reconnect connects the current chat again from scratch.
func (instance *ChatHandlers) Reconnect(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	chatId := session.ChatId()
	if chatId == "" {
		chatId = clientIds.NewChatId()
	}
	return instance.connect(request, session, chatId)
}

func (instance *ChatHandlers) connect(request *http.Request, session *sessions.Session, chatId string) *web.Response {
	session.Chat.ResetChat()

	userId, err := session.UserId()
	if err != nil {
		log.Warn().Err(err).Msg("connect without a valid session token")
		session.ConnectFailed(chatId, "Please sign in to start chatting.")
		return instance.renderChat(session, nil)
	}

	connectResponse, err := session.Client.ConnectChat(request.Context(), session.Token(), orchestrator.ConnectChatRequest{
		ChatId:   chatId,
		UserId:   userId,
		DeviceId: session.DeviceId,
	})
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatId).Msg("orchestrator.Client.ConnectChat() failed")
		session.ConnectFailed(chatId, err.Error())
		return instance.renderChat(session, nil)
	}

	session.Chat.LoadHistory(chatSession.MessagesFromHistory(connectResponse.ChatHistory))
	session.Connected(chatId, connectResponse.EnabledMcps, connectResponse.SandboxStatus)
	session.WaitForSandbox(instance.dependencies.SandboxWaiter, func() {
		instance.publishChat(session)
	})

	log.Info().Str("chat_id", chatId).Str("sandbox_status", connectResponse.SandboxStatus).Msg("chat connected")
	headers := web.Headers{
		"HX-Trigger":            "{\"chatConnected\":\"\"}",
		"HX-Trigger-After-Swap": "{\"parseAllRawMessages\":\"\"}",
	}
	return instance.renderChat(session, headers)
}

func (instance *ChatHandlers) Ask(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	err := request.ParseForm()
	if err != nil {
		log.Error().Err(err).Msg("http.Request.ParseForm() failed")
		return web.GetEmptyResponse(http.StatusBadRequest, nil)
	}

	chatId := session.ChatId()
	if chatId == "" {
		return web.GetEmptyResponse(http.StatusConflict, nil)
	}

	userId, err := session.UserId()
	if err != nil {
		log.Warn().Err(err).Msg("sending without a user id")
	}

	err = session.Chat.SendMessage(chatSession.SendRequest{
		Text:     request.Form.Get("user-input"),
		ChatId:   chatId,
		DeviceId: session.DeviceId,
		UserId:   userId,
		Tokens:   session.Tokens(),
	})
	if err != nil {
		log.Error().Err(err).Msg("chatSession.SendMessage() failed")
		return web.GetEmptyResponse(http.StatusInternalServerError, nil)
	}

	headers := web.Headers{"HX-Trigger-After-Swap": "{\"clearUserInput\":\"\"}"}
	return web.GetEmptyResponse(http.StatusOK, headers)
}

func (instance *ChatHandlers) Reset(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	session.Chat.ResetChat()
	headers := web.Headers{"HX-Trigger-After-Swap": "{\"clearUserInput\":\"\"}"}
	return instance.renderChat(session, headers)
}

func (instance *ChatHandlers) DismissError(request *http.Request) *web.Response {
	session, response := instance.requestSession(request)
	if session == nil {
		return response
	}

	session.Chat.ClearError()
	return instance.renderChat(session, nil)
}

// chatResponseHandler pushes every state change of the chat to the browser.
func (instance *ChatHandlers) chatResponseHandler(id uuid.UUID) chatSession.ResponseFunc {
	return func(snapshot chatSession.Snapshot) {
		session := instance.sessionManager.GetSession(id)
		if session == nil {
			return
		}
		instance.publish(session, snapshot)
	}
}

func (instance *ChatHandlers) publishChat(session *sessions.Session) {
	instance.publish(session, session.Chat.Snapshot())
}

func (instance *ChatHandlers) publish(session *sessions.Session, snapshot chatSession.Snapshot) {
	content, err := web.RenderTemplate(instance.templates, chatTemplate, ToUiChat(session, snapshot))
	if err != nil {
		log.Error().Err(err).Str("template_name", chatTemplate).Msg("templates.ExecuteTemplate() failed")
		return
	}
	instance.notificationServer.Publish(session.Id, content)
}

// Snapshot renders the chat of a browser session for a newly subscribed websocket.
func (instance *ChatHandlers) Snapshot(id uuid.UUID) []byte {
	session := instance.sessionManager.GetSession(id)
	if session == nil {
		return nil
	}

	content, err := web.RenderTemplate(instance.templates, chatTemplate, ToUiChat(session, session.Chat.Snapshot()))
	if err != nil {
		log.Error().Err(err).Str("template_name", chatTemplate).Msg("templates.ExecuteTemplate() failed")
		return nil
	}
	return content
}

func errorMessage(err error) string {
	var apiError *orchestrator.ApiError
	if errors.As(err, &apiError) {
		return apiError.Message
	}
	return err.Error()
}
