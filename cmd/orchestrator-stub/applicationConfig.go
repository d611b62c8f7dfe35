package main

import "time"

type applicationConfig struct {
	Host          string        `config_default:"localhost" config_description:"Stub server host interface"`
	Port          int           `config_default:"8000" config_description:"Stub server port"`
	SandboxChecks int           `config_default:"2" config_description:"Sandbox status checks before a new sandbox is ready"`
	TaskPolls     int           `config_default:"2" config_description:"Polls an MCP task stays pending, and then running"`
	ChunkDelay    time.Duration `config_default:"150ms" config_description:"Delay between streamed events"`
}
