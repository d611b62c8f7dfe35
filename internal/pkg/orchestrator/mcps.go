package orchestrator

import (
	"context"
	"net/http"
	"net/url"
)

func mcpPath(mcpId string, suffix string) string {
	return "/mcps/" + url.PathEscape(mcpId) + suffix
}

func (instance *Client) ListMcps(ctx context.Context, token string) ([]Mcp, error) {
	response := &ListMcpsResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/mcps", token, nil, response); err != nil {
		return nil, err
	}
	if err := response.check("failed to list MCPs"); err != nil {
		return nil, err
	}
	return response.Mcps, nil
}

// InboundConfig returns the OAuth client id registered for an MCP. The endpoint is public.
func (instance *Client) InboundConfig(ctx context.Context, mcpId string) (*InboundConfig, error) {
	response := &InboundConfig{}
	if err := instance.doRequest(ctx, http.MethodGet, mcpPath(mcpId, "/inbound-config"), "", nil, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (instance *Client) UpdateMcpEnv(ctx context.Context, token string, mcpId string, env map[string]string) error {
	response := &Envelope{}
	if err := instance.doRequest(ctx, http.MethodPost, mcpPath(mcpId, "/env"), token, UpdateMcpEnvRequest{Env: env}, response); err != nil {
		return err
	}
	return response.check("failed to update MCP env")
}

func (instance *Client) UpdateMcpVisibility(ctx context.Context, token string, mcpId string, visibility string) error {
	response := &Envelope{}
	if err := instance.doRequest(ctx, http.MethodPost, mcpPath(mcpId, "/visibility"), token, UpdateVisibilityRequest{Visibility: visibility}, response); err != nil {
		return err
	}
	return response.check("failed to update visibility")
}

func (instance *Client) UpdateToolRoles(ctx context.Context, token string, mcpId string, roles map[string]string) error {
	response := &Envelope{}
	if err := instance.doRequest(ctx, http.MethodPost, mcpPath(mcpId, "/tool-roles"), token, UpdateToolRolesRequest{Roles: roles}, response); err != nil {
		return err
	}
	return response.check("failed to update tool roles")
}

// GetClientMcp returns the user's own environment variables for an MCP, nil when none are saved.
func (instance *Client) GetClientMcp(ctx context.Context, token string, mcpId string) (map[string]string, error) {
	response := &GetClientMcpResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/client-mcps/"+url.PathEscape(mcpId), token, nil, response); err != nil {
		return nil, err
	}
	if !response.Success || response.ClientMcp == nil {
		return nil, nil
	}
	return response.ClientMcp.McpEnvVariables, nil
}

func (instance *Client) SaveClientMcp(ctx context.Context, token string, mcpId string, env map[string]string) error {
	if env == nil {
		env = map[string]string{}
	}
	response := &Envelope{}
	if err := instance.doRequest(ctx, http.MethodPost, "/client-mcps/"+url.PathEscape(mcpId), token, SaveClientMcpRequest{EnvVariables: env}, response); err != nil {
		return err
	}
	return response.check("failed to save")
}

// ExchangeInboundCode trades an authorization code for the orchestrator's access cookie,
// which lands in this client's cookie jar.
func (instance *Client) ExchangeInboundCode(ctx context.Context, token string, request InboundCallbackRequest) error {
	return instance.doRequest(ctx, http.MethodPost, "/inbound/callback", token, request, nil)
}

func (instance *Client) StartMcpTask(ctx context.Context, token string, request StartMcpTaskRequest) (string, error) {
	response := &StartMcpTaskResponse{}
	if err := instance.doRequest(ctx, http.MethodPost, "/mcp/tasks/start", token, request, response); err != nil {
		return "", err
	}
	if err := response.check("failed to start task"); err != nil {
		return "", err
	}
	return response.TaskId, nil
}

// GetMcpTask returns the decoded response as is; callers tell "not found" from
// transient failures by the envelope message.
func (instance *Client) GetMcpTask(ctx context.Context, taskId string) (*GetMcpTaskResponse, error) {
	response := &GetMcpTaskResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/mcp/tasks/"+url.PathEscape(taskId), "", nil, response); err != nil {
		return nil, err
	}
	return response, nil
}
