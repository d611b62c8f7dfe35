package sessions

import (
	"context"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sandbox"
	"testing"
	"time"
)

type waiterFunc func(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error

func (function waiterFunc) WaitReady(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
	return function(ctx, chatId, userId, tokens)
}

func newSession(t *testing.T) *Session {
	client, err := orchestrator.New("http://orchestrator.invalid")
	require.NoError(t, err)
	session := NewSession(uuid.New(), "device-1", client, nil)
	t.Cleanup(session.Shutdown)
	return session
}

func signedToken(t *testing.T, subject string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestTokensPositiveLatestToken(t *testing.T) {
	session := newSession(t)
	tokens := session.Tokens()

	_, err := tokens(context.Background())
	assert.ErrorIs(t, err, authToken.ErrNoToken)

	session.SetToken("first")
	session.SetToken("")
	token, err := tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	session.SetToken("second")
	token, err = tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}

func TestUserIdPositive(t *testing.T) {
	session := newSession(t)
	session.SetToken(signedToken(t, "user-1"))

	userId, err := session.UserId()
	require.NoError(t, err)
	assert.Equal(t, "user-1", userId)
}

func TestUserIdNegativeNoToken(t *testing.T) {
	_, err := newSession(t).UserId()
	assert.ErrorIs(t, err, authToken.ErrNoToken)
}

func TestEnabledMcpsPositive(t *testing.T) {
	session := newSession(t)
	session.Connected("chat-1", []orchestrator.EnabledMcp{{Id: "mcp-1", Name: "one"}}, orchestrator.SandboxStatusReady)

	session.SetMcpEnabled(orchestrator.EnabledMcp{Id: "mcp-2", Name: "two"}, true)
	session.SetMcpEnabled(orchestrator.EnabledMcp{Id: "mcp-2", Name: "two"}, true)
	assert.True(t, session.McpEnabled("mcp-2"))
	assert.Len(t, session.EnabledMcps(), 2)

	session.SetMcpEnabled(orchestrator.EnabledMcp{Id: "mcp-1"}, false)
	assert.False(t, session.McpEnabled("mcp-1"))
	assert.Equal(t, []orchestrator.EnabledMcp{{Id: "mcp-2", Name: "two"}}, session.EnabledMcps())
}

func TestWaitForSandboxPositive(t *testing.T) {
	session := newSession(t)
	session.SetToken(signedToken(t, "user-1"))
	session.Connected("chat-1", nil, orchestrator.SandboxStatusCreating)

	changed := make(chan struct{}, 1)
	session.WaitForSandbox(waiterFunc(func(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
		assert.Equal(t, "chat-1", chatId)
		assert.Equal(t, "user-1", userId)
		return nil
	}), func() { changed <- struct{}{} })

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox change not reported")
	}
	state := session.Sandbox()
	assert.True(t, state.Ready())
	assert.False(t, state.Waiting)
	assert.Empty(t, state.Error)
}

func TestWaitForSandboxNegativeTimeout(t *testing.T) {
	session := newSession(t)
	session.Connected("chat-1", nil, orchestrator.SandboxStatusCreating)

	changed := make(chan struct{}, 1)
	session.WaitForSandbox(waiterFunc(func(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
		return sandbox.ErrTimeout
	}), func() { changed <- struct{}{} })

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox change not reported")
	}
	assert.Equal(t, sandbox.ErrTimeout.Error(), session.Sandbox().Error)
	assert.False(t, session.Sandbox().Ready())
}

func TestWaitForSandboxPositiveReadyNoPoll(t *testing.T) {
	session := newSession(t)
	session.Connected("chat-1", nil, orchestrator.SandboxStatusReady)

	session.WaitForSandbox(waiterFunc(func(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
		t.Error("no poll expected")
		return nil
	}), nil)
	assert.False(t, session.Sandbox().Waiting)
}

func TestWaitForSandboxPositiveCancelledByNewChat(t *testing.T) {
	session := newSession(t)
	session.Connected("chat-1", nil, orchestrator.SandboxStatusCreating)

	started := make(chan context.Context, 1)
	session.WaitForSandbox(waiterFunc(func(ctx context.Context, chatId string, userId string, tokens authToken.Provider) error {
		started <- ctx
		<-ctx.Done()
		return ctx.Err()
	}), func() { t.Error("no change expected") })

	ctx := <-started
	assert.True(t, session.Sandbox().Waiting)

	session.Connected("chat-2", nil, orchestrator.SandboxStatusReady)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, "chat-2", session.ChatId())
	assert.True(t, session.Sandbox().Ready())
}

func TestSessionManagerPositive(t *testing.T) {
	manager := New()
	session := newSession(t)

	require.NoError(t, manager.AddSession(session))
	assert.Error(t, manager.AddSession(session))
	assert.Same(t, session, manager.GetSession(session.Id))
	assert.Nil(t, manager.GetSession(uuid.New()))

	manager.Shutdown()
	assert.Nil(t, manager.GetSession(session.Id))
}

func TestPruneIdlePositive(t *testing.T) {
	manager := New()
	idle := newSession(t)
	active := newSession(t)
	idle.lastSeen = time.Now().Add(-time.Hour)

	require.NoError(t, manager.AddSession(idle))
	require.NoError(t, manager.AddSession(active))

	assert.Equal(t, 1, manager.PruneIdle(30*time.Minute))
	assert.Nil(t, manager.GetSession(idle.Id))
	assert.NotNil(t, manager.GetSession(active.Id))
}

func TestPruneIdlePositiveCallsPruneFunc(t *testing.T) {
	var pruned []uuid.UUID
	manager := New(WithPruneFunc(func(id uuid.UUID) {
		pruned = append(pruned, id)
	}))
	idle := newSession(t)
	idle.lastSeen = time.Now().Add(-time.Hour)
	active := newSession(t)

	require.NoError(t, manager.AddSession(idle))
	require.NoError(t, manager.AddSession(active))

	assert.Equal(t, 1, manager.PruneIdle(30*time.Minute))
	assert.Equal(t, []uuid.UUID{idle.Id}, pruned)
}
