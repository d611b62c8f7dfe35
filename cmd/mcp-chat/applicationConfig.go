package main

import "time"

type applicationConfig struct {
	Host               string        `config_default:"localhost" config_description:"Server host interface"`
	Port               int           `config_default:"8080" config_description:"Server port"`
	SimulatedDelay     int           `config_default:"0" config_description:"Simulated delay for HTMX interactions in milliseconds"`
	OrchestratorUrl    string        `config_default:"http://localhost:8000" config_description:"Base URL of the orchestrator API"`
	PublicUrl          string        `config_default:"http://localhost:8080" config_description:"Public URL of this application, used for OAuth redirects"`
	DescopeBase        string        `config_default:"https://api.descope.com" config_description:"Base URL of the authorization server"`
	InboundClientId    string        `config_default:"" config_description:"OAuth client id used when an MCP has no inbound configuration"`
	DatabasePath       string        `config_default:"./mcp-chat.db" config_description:"Path to the SQLite database with device state"`
	AuthCookieName     string        `config_default:"DS" config_description:"Cookie holding the identity provider's session token"`
	DevToken           string        `config_default:"" config_description:"Session token used for browsers without one, for local development"`
	CookieSecret       string        `config_default:"" config_description:"Secret for signing session cookies, a built-in key is used when empty"`
	SessionIdleTimeout time.Duration `config_default:"12h" config_description:"Browser sessions idle for longer are dropped"`
	SandboxInterval    time.Duration `config_default:"5s" config_description:"Interval between sandbox status checks"`
	SandboxAttempts    int           `config_default:"30" config_description:"Sandbox status checks before giving up"`
	TaskRequestRate    int           `config_default:"10" config_description:"Maximum MCP task status requests per second"`
	AllowedOrigins     []string      `config_default:"https://*,http://*" config_description:"Allowed CORS origins"`
	WebsocketOrigins   []string      `config_default:"" config_description:"Extra host patterns allowed to open the notification websocket"`
}
