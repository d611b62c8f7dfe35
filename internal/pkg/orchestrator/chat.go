package orchestrator

import (
	"context"
	"fmt"
	"io"
	"mcp-chat/internal/pkg/eventStream"
	"mime"
	"net/http"
	"net/url"
)

func chatPath(chatId string, suffix string) string {
	return "/chat/" + url.PathEscape(chatId) + suffix
}

// ConnectChat joins or creates a chat and reports its history, tools and sandbox state.
func (instance *Client) ConnectChat(ctx context.Context, token string, request ConnectChatRequest) (*ConnectChatResponse, error) {
	response := &ConnectChatResponse{}
	if err := instance.doRequest(ctx, http.MethodPost, "/connect-chat", token, request, response); err != nil {
		return nil, fmt.Errorf("failed to connect to chat: %w", err)
	}
	if err := response.check("failed to connect to chat"); err != nil {
		return nil, err
	}
	return response, nil
}

func (instance *Client) SandboxStatus(ctx context.Context, token string, request SandboxStatusRequest) (*SandboxStatusResponse, error) {
	response := &SandboxStatusResponse{}
	if err := instance.doRequest(ctx, http.MethodPost, "/sandbox-status", token, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

// ToggleMcp enables or disables a tool for a chat. The decoded response is returned
// together with a *StatusError for a non-2xx reply, since the orchestrator reports
// inbound_required that way.
func (instance *Client) ToggleMcp(ctx context.Context, token string, chatId string, request ToggleMcpRequest) (*ToggleMcpResponse, error) {
	response := &ToggleMcpResponse{}
	err := instance.doRequest(ctx, http.MethodPost, chatPath(chatId, "/toggle-mcp"), token, request, response)
	return response, err
}

func (instance *Client) ListUserSessions(ctx context.Context, token string, userId string) ([]ChatSummary, error) {
	response := &ListUserSessionsResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/user/"+url.PathEscape(userId)+"/sessions", token, nil, response); err != nil {
		return nil, err
	}
	if err := response.check("failed to list chat sessions"); err != nil {
		return nil, err
	}
	return response.Sessions, nil
}

// StreamChat posts a message and hands every event of the response stream to handler
// in arrival order. It returns when the stream ends, handler returns an error or ctx is
// cancelled.
func (instance *Client) StreamChat(ctx context.Context, token string, chatId string, request StreamChatRequest, handler eventStream.HandlerFunc) error {
	path := chatPath(chatId, "/stream")
	httpRequest, err := instance.newRequest(ctx, http.MethodPost, path, token, request)
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Accept", eventStream.ContentType)
	httpRequest.Header.Set("Cache-Control", "no-cache")

	response, err := instance.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", http.MethodPost, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		content, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		return &StatusError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       truncate(string(content), maxErrorBodySize),
		}
	}

	mediaType, _, err := mime.ParseMediaType(response.Header.Get("Content-Type"))
	if err != nil || mediaType != eventStream.ContentType {
		return fmt.Errorf("%s %s: unexpected content type %q", http.MethodPost, path, response.Header.Get("Content-Type"))
	}

	return eventStream.Read(ctx, response.Body, handler)
}
