package orchestrator

import (
	"github.com/bytedance/sonic"
)

const (
	SandboxStatusCreating = "creating"
	SandboxStatusReady    = "ready"
)

type ConnectChatRequest struct {
	ChatId   string `json:"chat_id"`
	UserId   string `json:"user_id"`
	DeviceId string `json:"device_id"`
}

type HistoryMessage struct {
	Role     string         `json:"role"`
	Content  string         `json:"content,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	State    string         `json:"state,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   any            `json:"output,omitempty"`
}

type EnabledMcp struct {
	Id   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ConnectChatResponse struct {
	Envelope
	ChatHistory   []HistoryMessage `json:"chat_history"`
	EnabledMcps   []EnabledMcp     `json:"enabled_mcps"`
	SandboxStatus string           `json:"sandbox_status"`
}

type StreamChatRequest struct {
	Message  string `json:"message"`
	UserId   string `json:"user_id"`
	DeviceId string `json:"device_id"`
}

type SandboxStatusRequest struct {
	ChatId string `json:"chat_id"`
	UserId string `json:"user_id"`
}

type SandboxStatusResponse struct {
	Envelope
	SandboxStatus string `json:"sandbox_status"`
}

func (response *SandboxStatusResponse) Ready() bool {
	return response != nil && response.Success && response.SandboxStatus == SandboxStatusReady
}

type ToggleMcpRequest struct {
	McpId   string `json:"mcp_id"`
	Enabled bool   `json:"enabled"`
}

type ToggleMcpResponse struct {
	Envelope
	InboundRequired bool `json:"inbound_required"`
}

type McpTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts a bare tool name as well as a tool object.
func (tool *McpTool) UnmarshalJSON(data []byte) error {
	var name string
	if err := sonic.Unmarshal(data, &name); err == nil {
		tool.Name = name
		return nil
	}

	type plain McpTool
	var decoded plain
	if err := sonic.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*tool = McpTool(decoded)
	return nil
}

type McpMetadata struct {
	GeneralEnvNames []string          `json:"general_env_names,omitempty"`
	ToolRoles       map[string]string `json:"tool_roles,omitempty"`
	Visibility      string            `json:"visibility,omitempty"`
}

type McpConfig struct {
	Env      map[string]string `json:"env,omitempty"`
	Metadata McpMetadata       `json:"metadata"`
}

type Mcp struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Pricing     float64   `json:"pricing,omitempty"`
	Tools       []McpTool `json:"tools,omitempty"`
	Config      McpConfig `json:"config"`
}

func (mcp Mcp) DisplayName() string {
	if mcp.Title != "" {
		return mcp.Title
	}
	return mcp.Name
}

type ListMcpsResponse struct {
	Envelope
	Mcps []Mcp `json:"mcps"`
}

type InboundConfig struct {
	ClientId string `json:"clientId"`
}

type UpdateMcpEnvRequest struct {
	Env map[string]string `json:"env"`
}

type UpdateVisibilityRequest struct {
	Visibility string `json:"visibility"`
}

type UpdateToolRolesRequest struct {
	Roles map[string]string `json:"roles"`
}

type ClientMcp struct {
	McpEnvVariables map[string]string `json:"mcp_env_variables"`
}

type GetClientMcpResponse struct {
	Envelope
	ClientMcp *ClientMcp `json:"client_mcp"`
}

type SaveClientMcpRequest struct {
	EnvVariables map[string]string `json:"env_variables"`
}

type InboundCallbackRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectUri  string `json:"redirect_uri"`
	ClientId     string `json:"client_id,omitempty"`
	McpId        string `json:"mcp_id,omitempty"`
}

type OutboundApp struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type ListOutboundAppsResponse struct {
	Envelope
	Apps []OutboundApp `json:"apps"`
}

type OutboundAppConnectedResponse struct {
	Connected bool `json:"connected"`
}

// Integration is an outbound app with its connection status for the current user.
type Integration struct {
	OutboundApp
	Connected bool
}

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

type McpTask struct {
	Id      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (task McpTask) Running() bool {
	return task.Status == TaskStatusPending || task.Status == TaskStatusRunning
}

type GetMcpTaskResponse struct {
	Envelope
	Task McpTask `json:"task"`
}

type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type StartMcpTaskRequest struct {
	Name            string   `json:"name"`
	StartupCommands []string `json:"startupCommands"`
	EnvVars         []EnvVar `json:"envVars"`
	McpEnvNames     []string `json:"mcpEnvNames"`
	IsPrivate       bool     `json:"isPrivate"`
	McpCommand      string   `json:"mcpCommand"`
	McpArgs         []string `json:"mcpArgs"`
}

type StartMcpTaskResponse struct {
	Envelope
	TaskId string `json:"task_id"`
}

type ChatSummary struct {
	ChatId    string `json:"chat_id"`
	CreatedAt string `json:"created_at,omitempty"`
}

type ListUserSessionsResponse struct {
	Envelope
	Sessions []ChatSummary `json:"sessions"`
}
