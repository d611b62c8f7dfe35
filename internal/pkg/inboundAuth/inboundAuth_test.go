package inboundAuth

import (
	"context"
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"mcp-chat/internal/pkg/orchestrator"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"
)

type recordingExchanger struct {
	calls    []orchestrator.InboundCallbackRequest
	tokens   []string
	response error
}

func (instance *recordingExchanger) ExchangeInboundCode(ctx context.Context, token string, request orchestrator.InboundCallbackRequest) error {
	instance.calls = append(instance.calls, request)
	instance.tokens = append(instance.tokens, token)
	return instance.response
}

func newAuthenticator() (*Authenticator, Store) {
	store := NewMemoryStore()
	return New(Config{ClientId: "default-client", PublicUrl: "https://chat.example.com/"}, store), store
}

func parseAuthorizeUrl(t *testing.T, authorizeUrl string) (*url.URL, url.Values) {
	parsed, err := url.Parse(authorizeUrl)
	require.NoError(t, err)
	return parsed, parsed.Query()
}

func TestBeginLoginPositive(t *testing.T) {
	authenticator, store := newAuthenticator()

	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{
		McpId:    "mcp-1",
		ChatId:   "chat-1",
		Scopes:   []string{"openid", "calendar"},
		ClientId: "client-1",
	})
	require.NoError(t, err)

	parsed, query := parseAuthorizeUrl(t, authorizeUrl)
	assert.Equal(t, "api.descope.com", parsed.Host)
	assert.Equal(t, "/oauth2/v1/apps/authorize", parsed.Path)
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "https://chat.example.com/auth/inbound/callback", query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "openid calendar", query.Get("scope"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("state"))
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`), query.Get("code_challenge"))
	assert.Equal(t, 1, store.Pending("session-1"))
}

func TestBeginLoginPositiveDefaultClientAndEmptyScope(t *testing.T) {
	authenticator, _ := newAuthenticator()

	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)

	_, query := parseAuthorizeUrl(t, authorizeUrl)
	assert.Equal(t, "default-client", query.Get("client_id"))
	assert.True(t, query.Has("scope"))
	assert.Equal(t, "", query.Get("scope"))
}

func TestBeginLoginNegativeMissingClientId(t *testing.T) {
	store := NewMemoryStore()
	authenticator := New(Config{PublicUrl: "https://chat.example.com"}, store)

	_, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	assert.ErrorIs(t, err, ErrMissingClientId)
	assert.Equal(t, 0, store.Pending("session-1"))
}

func TestBeginLoginPositiveDistinctVerifiers(t *testing.T) {
	authenticator, _ := newAuthenticator()

	first, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)
	second, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-2"})
	require.NoError(t, err)

	_, firstQuery := parseAuthorizeUrl(t, first)
	_, secondQuery := parseAuthorizeUrl(t, second)
	assert.NotEqual(t, firstQuery.Get("state"), secondQuery.Get("state"))
	assert.NotEqual(t, firstQuery.Get("code_challenge"), secondQuery.Get("code_challenge"))
}

func TestHandleCallbackPositive(t *testing.T) {
	authenticator, store := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1", ChatId: "chat-1", ClientId: "client-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	exchanger := &recordingExchanger{}
	toggle, err := authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query:     url.Values{"code": {"code-1"}, "state": {authorizeQuery.Get("state")}},
		AuthToken: "token-1",
	})
	require.NoError(t, err)

	assert.Equal(t, &PendingToggle{McpId: "mcp-1", ChatId: "chat-1"}, toggle)
	require.Len(t, exchanger.calls, 1)
	call := exchanger.calls[0]
	assert.Equal(t, "code-1", call.Code)
	assert.Equal(t, "client-1", call.ClientId)
	assert.Equal(t, "mcp-1", call.McpId)
	assert.Equal(t, "https://chat.example.com/auth/inbound/callback", call.RedirectUri)
	assert.Equal(t, authorizeQuery.Get("code_challenge"), oauth2.S256ChallengeFromVerifier(call.CodeVerifier))
	assert.Equal(t, []string{"token-1"}, exchanger.tokens)
	assert.Equal(t, 0, store.Pending("session-1"))
}

func TestHandleCallbackPositiveWithoutToggle(t *testing.T) {
	authenticator, _ := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	toggle, err := authenticator.HandleCallback(context.Background(), "session-1", &recordingExchanger{}, CallbackRequest{
		Query: url.Values{"code": {"code-1"}, "state": {authorizeQuery.Get("state")}},
	})
	require.NoError(t, err)
	assert.Nil(t, toggle)
}

func TestHandleCallbackNegativeStateMismatch(t *testing.T) {
	authenticator, store := newAuthenticator()
	_, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1", ChatId: "chat-1"})
	require.NoError(t, err)

	exchanger := &recordingExchanger{}
	toggle, err := authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query: url.Values{"code": {"code-1"}, "state": {"forged"}},
	})
	assert.ErrorIs(t, err, ErrInvalidCallback)
	assert.Nil(t, toggle)
	assert.Empty(t, exchanger.calls)
	assert.Equal(t, 0, store.Pending("session-1"))
}

func TestHandleCallbackNegativeMissingCode(t *testing.T) {
	authenticator, store := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	exchanger := &recordingExchanger{}
	_, err = authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query: url.Values{"state": {authorizeQuery.Get("state")}},
	})
	assert.ErrorIs(t, err, ErrInvalidCallback)
	assert.Empty(t, exchanger.calls)
	assert.Equal(t, 0, store.Pending("session-1"))
}

func TestHandleCallbackNegativeOtherSession(t *testing.T) {
	authenticator, store := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	exchanger := &recordingExchanger{}
	_, err = authenticator.HandleCallback(context.Background(), "session-2", exchanger, CallbackRequest{
		Query: url.Values{"code": {"code-1"}, "state": {authorizeQuery.Get("state")}},
	})
	assert.ErrorIs(t, err, ErrInvalidCallback)
	assert.Empty(t, exchanger.calls)
	assert.Equal(t, 1, store.Pending("session-1"))
}

func TestHandleCallbackNegativeProviderError(t *testing.T) {
	authenticator, store := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	exchanger := &recordingExchanger{}
	_, err = authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query: url.Values{"error": {"access_denied"}, "state": {authorizeQuery.Get("state")}},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "access_denied"))
	assert.Empty(t, exchanger.calls)
	assert.Equal(t, 0, store.Pending("session-1"))
}

func TestHandleCallbackNegativeExchangeFails(t *testing.T) {
	authenticator, store := newAuthenticator()
	authorizeUrl, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "mcp-1", ChatId: "chat-1"})
	require.NoError(t, err)
	_, authorizeQuery := parseAuthorizeUrl(t, authorizeUrl)

	exchanger := &recordingExchanger{response: errors.New("bad code")}
	toggle, err := authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query: url.Values{"code": {"code-1"}, "state": {authorizeQuery.Get("state")}},
	})
	assert.Error(t, err)
	assert.Nil(t, toggle)
	assert.Len(t, exchanger.calls, 1)
	assert.Equal(t, 0, store.Pending("session-1"))

	// Replaying the same callback finds no flow.
	_, err = authenticator.HandleCallback(context.Background(), "session-1", exchanger, CallbackRequest{
		Query: url.Values{"code": {"code-1"}, "state": {authorizeQuery.Get("state")}},
	})
	assert.ErrorIs(t, err, ErrInvalidCallback)
	assert.Len(t, exchanger.calls, 1)
}

func TestMemoryStorePositiveExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithTtl(time.Minute), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Save("session-1", Flow{State: "state-1", CodeVerifier: "v"}))
	assert.Equal(t, 1, store.Pending("session-1"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, store.Pending("session-1"))
	_, found := store.Take("session-1", "state-1")
	assert.False(t, found)
}

func TestMemoryStorePositiveBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	for i := 0; i < maxFlowsPerOwner+3; i++ {
		now = now.Add(time.Second)
		require.NoError(t, store.Save("session-1", Flow{State: string(rune('a' + i)), CodeVerifier: "v"}))
	}
	assert.Equal(t, maxFlowsPerOwner, store.Pending("session-1"))

	_, found := store.Take("session-1", "a")
	assert.False(t, found)
}

func TestMemoryStorePositiveTakeKeepsOtherFlows(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save("session-1", Flow{State: "state-1", CodeVerifier: "v1"}))
	require.NoError(t, store.Save("session-1", Flow{State: "state-2", CodeVerifier: "v2"}))

	flow, found := store.Take("session-1", "state-2")
	assert.True(t, found)
	assert.Equal(t, "v2", flow.CodeVerifier)
	assert.Equal(t, 1, store.Pending("session-1"))
}

func TestMemoryStorePositiveSweepsAbandonedOwners(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	for i := 0; i < 1000; i++ {
		require.NoError(t, store.Save(fmt.Sprintf("session-%d", i), Flow{State: "state", CodeVerifier: "v"}))
	}
	assert.Len(t, store.(*memoryStore).flows, 1000)

	now = now.Add(24 * time.Hour)
	require.NoError(t, store.Save("session-live", Flow{State: "state-live", CodeVerifier: "v"}))

	assert.Len(t, store.(*memoryStore).flows, 1)
	flow, found := store.Take("session-live", "state-live")
	assert.True(t, found)
	assert.Equal(t, "state-live", flow.State)
	assert.Empty(t, store.(*memoryStore).flows)
}

func TestMemoryStorePositiveForget(t *testing.T) {
	store := NewMemoryStore()
	authenticator := New(Config{ClientId: "client-1", PublicUrl: "https://chat.example.com"}, store)

	_, err := authenticator.BeginLogin("session-1", LoginRequest{McpId: "calendar", ChatId: "chat-1"})
	require.NoError(t, err)
	_, err = authenticator.BeginLogin("session-2", LoginRequest{McpId: "calendar", ChatId: "chat-2"})
	require.NoError(t, err)

	authenticator.Forget("session-1")
	assert.Equal(t, 0, store.Pending("session-1"))
	assert.Equal(t, 1, store.Pending("session-2"))
}
