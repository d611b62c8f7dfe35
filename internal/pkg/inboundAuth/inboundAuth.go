package inboundAuth

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"mcp-chat/internal/pkg/orchestrator"
	"net/url"
	"strings"
)

const (
	CallbackPath       = "/auth/inbound/callback"
	DefaultDescopeBase = "https://api.descope.com"
	authorizePath      = "/oauth2/v1/apps/authorize"
)

var (
	ErrMissingClientId = errors.New("inbound clientId is not available")
	ErrInvalidCallback = errors.New("invalid OAuth callback parameters")
)

type Config struct {
	DescopeBase string
	// ClientId is used when a login request names none.
	ClientId string
	// PublicUrl is the origin the browser reaches this application on.
	PublicUrl string
}

func (config Config) RedirectUri() string {
	return strings.TrimSuffix(config.PublicUrl, "/") + CallbackPath
}

type Exchanger interface {
	ExchangeInboundCode(ctx context.Context, token string, request orchestrator.InboundCallbackRequest) error
}

type Authenticator struct {
	config Config
	store  Store
}

func New(config Config, store Store) *Authenticator {
	if config.DescopeBase == "" {
		config.DescopeBase = DefaultDescopeBase
	}
	return &Authenticator{config: config, store: store}
}

// Forget discards the pending flows of an owner that went away.
func (instance *Authenticator) Forget(owner string) {
	instance.store.Forget(owner)
}

type LoginRequest struct {
	McpId    string
	ChatId   string
	Scopes   []string
	ClientId string
}

var beginLoginError = func(err error) error {
	return fmt.Errorf("error beginning inbound login: %w", err)
}

// BeginLogin records a new PKCE flow for owner and returns the authorization URL the
// browser has to be sent to.
func (instance *Authenticator) BeginLogin(owner string, request LoginRequest) (string, error) {
	clientId := request.ClientId
	if clientId == "" {
		clientId = instance.config.ClientId
	}
	if clientId == "" {
		return "", beginLoginError(ErrMissingClientId)
	}

	flow := Flow{
		State:        uuid.NewString(),
		CodeVerifier: oauth2.GenerateVerifier(),
		ClientId:     clientId,
		McpId:        request.McpId,
	}
	if request.McpId != "" && request.ChatId != "" {
		flow.PendingToggle = &PendingToggle{McpId: request.McpId, ChatId: request.ChatId}
	}
	if err := instance.store.Save(owner, flow); err != nil {
		return "", beginLoginError(err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:    clientId,
		RedirectURL: instance.config.RedirectUri(),
		Endpoint: oauth2.Endpoint{
			AuthURL: strings.TrimSuffix(instance.config.DescopeBase, "/") + authorizePath,
		},
	}
	authorizeUrl := oauthConfig.AuthCodeURL(flow.State,
		oauth2.SetAuthURLParam("scope", strings.Join(request.Scopes, " ")),
		oauth2.S256ChallengeOption(flow.CodeVerifier))

	log.Info().Str("mcp_id", request.McpId).Str("chat_id", request.ChatId).Msg("redirecting to inbound login")
	return authorizeUrl, nil
}

type CallbackRequest struct {
	Query     url.Values
	AuthToken string
	UserId    string
}

var callbackError = func(err error) error {
	return fmt.Errorf("error handling inbound callback: %w", err)
}

// HandleCallback validates the redirect back from the authorization server and lets the
// orchestrator exchange the code. The flow is consumed before any network call, whatever
// the outcome. It returns the toggle that started the flow, if any.
func (instance *Authenticator) HandleCallback(ctx context.Context, owner string, exchanger Exchanger, request CallbackRequest) (*PendingToggle, error) {
	code := request.Query.Get("code")
	state := request.Query.Get("state")

	flow, found := instance.store.Take(owner, state)

	if providerError := request.Query.Get("error"); providerError != "" {
		return nil, callbackError(fmt.Errorf("authorization denied: %s %s", providerError, request.Query.Get("error_description")))
	}
	if code == "" || state == "" || !found || flow.CodeVerifier == "" || flow.State != state {
		return nil, callbackError(ErrInvalidCallback)
	}

	log.Info().Str("mcp_id", flow.McpId).Str("user_id", request.UserId).Msg("inbound callback")

	err := exchanger.ExchangeInboundCode(ctx, request.AuthToken, orchestrator.InboundCallbackRequest{
		Code:         code,
		CodeVerifier: flow.CodeVerifier,
		RedirectUri:  instance.config.RedirectUri(),
		ClientId:     flow.ClientId,
		McpId:        flow.McpId,
	})
	if err != nil {
		return nil, callbackError(fmt.Errorf("inbound exchange failed: %w", err))
	}

	return flow.PendingToggle, nil
}
