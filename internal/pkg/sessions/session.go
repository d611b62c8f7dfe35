package sessions

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/chatSession"
	"mcp-chat/internal/pkg/orchestrator"
	"slices"
	"sync"
	"time"
)

type SandboxWaiter interface {
	WaitReady(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error
}

type SandboxState struct {
	Status  string
	Waiting bool
	Error   string
}

func (state SandboxState) Ready() bool {
	return state.Status == orchestrator.SandboxStatusReady
}

// Session is the server side state of one browser. Client owns a cookie jar, so cookies
// the orchestrator sets for this browser (the inbound access cookie) are sent back on
// later requests of the same browser only.
type Session struct {
	Id       uuid.UUID
	DeviceId string
	Chat     chatSession.ChatSession
	Client   *orchestrator.Client

	mutex         sync.Mutex
	token         string
	chatId        string
	enabledMcps   []orchestrator.EnabledMcp
	sandbox       SandboxState
	cancelSandbox context.CancelFunc
	sandboxWaits  sync.WaitGroup
	lastSeen      time.Time
}

func NewSession(id uuid.UUID, deviceId string, client *orchestrator.Client, responseFunc chatSession.ResponseFunc) *Session {
	return &Session{
		Id:       id,
		DeviceId: deviceId,
		Client:   client,
		Chat:     chatSession.New(client, responseFunc),
		lastSeen: time.Now(),
	}
}

// SetToken remembers the latest session token the browser presented.
func (instance *Session) SetToken(token string) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	instance.lastSeen = time.Now()
	if token != "" {
		instance.token = token
	}
}

func (instance *Session) Token() string {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.token
}

// Tokens reads the token at call time, so a stream started later uses the newest one.
func (instance *Session) Tokens() authToken.Provider {
	return func(ctx context.Context) (string, error) {
		if token := instance.Token(); token != "" {
			return token, nil
		}
		return "", authToken.ErrNoToken
	}
}

func (instance *Session) UserId() (string, error) {
	token := instance.Token()
	if token == "" {
		return "", authToken.ErrNoToken
	}
	return authToken.UserId(token)
}

func (instance *Session) ChatId() string {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.chatId
}

// Connected records the result of connect-chat and stops waiting for the sandbox of a
// previous chat.
func (instance *Session) Connected(chatId string, enabledMcps []orchestrator.EnabledMcp, sandboxStatus string) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	instance.stopSandboxWaitLocked()
	instance.chatId = chatId
	instance.enabledMcps = slices.Clone(enabledMcps)
	instance.sandbox = SandboxState{Status: sandboxStatus}
}

// ConnectFailed keeps chatId for a later reconnect and reports message as sandbox error.
func (instance *Session) ConnectFailed(chatId string, message string) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	instance.stopSandboxWaitLocked()
	instance.chatId = chatId
	instance.enabledMcps = nil
	instance.sandbox = SandboxState{Error: message}
}

func (instance *Session) EnabledMcps() []orchestrator.EnabledMcp {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return slices.Clone(instance.enabledMcps)
}

func (instance *Session) McpEnabled(mcpId string) bool {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return slices.ContainsFunc(instance.enabledMcps, func(mcp orchestrator.EnabledMcp) bool {
		return mcp.Id == mcpId
	})
}

func (instance *Session) SetMcpEnabled(mcp orchestrator.EnabledMcp, enabled bool) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	instance.enabledMcps = slices.DeleteFunc(instance.enabledMcps, func(existing orchestrator.EnabledMcp) bool {
		return existing.Id == mcp.Id
	})
	if enabled {
		instance.enabledMcps = append(instance.enabledMcps, mcp)
	}
}

func (instance *Session) Sandbox() SandboxState {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.sandbox
}

// WaitForSandbox polls the sandbox of the current chat in the background unless it is
// ready already. onChange is called after the wait ends, successfully or not.
func (instance *Session) WaitForSandbox(waiter SandboxWaiter, onChange func()) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	instance.stopSandboxWaitLocked()
	if instance.sandbox.Ready() || instance.chatId == "" {
		return
	}

	userId := ""
	if instance.token != "" {
		var err error
		if userId, err = authToken.UserId(instance.token); err != nil {
			log.Warn().Err(err).Msg("sandbox wait without user id")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	instance.cancelSandbox = cancel
	instance.sandbox.Waiting = true
	instance.sandbox.Error = ""
	chatId := instance.chatId

	instance.sandboxWaits.Add(1)
	go func() {
		defer instance.sandboxWaits.Done()
		defer cancel()

		err := waiter.WaitReady(ctx, chatId, userId, instance.Tokens())
		if errors.Is(err, context.Canceled) {
			return
		}

		instance.mutex.Lock()
		if instance.chatId != chatId || ctx.Err() != nil {
			instance.mutex.Unlock()
			return
		}
		instance.sandbox.Waiting = false
		if err != nil {
			instance.sandbox.Error = err.Error()
		} else {
			instance.sandbox.Status = orchestrator.SandboxStatusReady
		}
		instance.mutex.Unlock()

		if onChange != nil {
			onChange()
		}
	}()
}

func (instance *Session) stopSandboxWaitLocked() {
	if instance.cancelSandbox != nil {
		instance.cancelSandbox()
		instance.cancelSandbox = nil
	}
	instance.sandbox.Waiting = false
}

func (instance *Session) idleSince() time.Time {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.lastSeen
}

func (instance *Session) Shutdown() {
	instance.mutex.Lock()
	instance.stopSandboxWaitLocked()
	instance.mutex.Unlock()

	instance.sandboxWaits.Wait()
	instance.Chat.Shutdown()
}
