package chatSession

import (
	"fmt"
	"github.com/bytedance/sonic"
)

const (
	EventTypeContent = "content"
	EventTypeTool    = "tool"

	heartbeatChunk = "."
)

// StreamEvent is one JSON object received on the chat stream.
type StreamEvent struct {
	Error    string         `json:"error,omitempty"`
	Chunk    string         `json:"chunk,omitempty"`
	Type     string         `json:"type,omitempty"`
	Content  string         `json:"content,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	State    ToolState      `json:"state,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   any            `json:"output,omitempty"`
	Done     bool           `json:"done,omitempty"`
}

var decodeEventError = func(err error) error {
	return fmt.Errorf("error decoding stream event: %w", err)
}

func DecodeEvent(data []byte) (StreamEvent, error) {
	var event StreamEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		return StreamEvent{}, decodeEventError(err)
	}
	return event, nil
}
