package chatSession

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolState string

const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
)

// Known reports whether the state is one of the tags the client renders specially.
// Unknown states are still stored as received.
func (state ToolState) Known() bool {
	switch state {
	case ToolStateInputStreaming, ToolStateInputAvailable, ToolStateOutputAvailable, ToolStateOutputError:
		return true
	}
	return false
}

// ChatMessage is one of UserMessage, AssistantMessage or ToolMessage.
type ChatMessage interface {
	Role() Role
	chatMessage()
}

type UserMessage struct {
	Content string
}

func (UserMessage) Role() Role   { return RoleUser }
func (UserMessage) chatMessage() {}

type AssistantMessage struct {
	Content string
}

func (AssistantMessage) Role() Role   { return RoleAssistant }
func (AssistantMessage) chatMessage() {}

type ToolMessage struct {
	ToolName string
	State    ToolState
	Input    map[string]any
	Output   any
}

func (ToolMessage) Role() Role   { return RoleTool }
func (ToolMessage) chatMessage() {}

func (message ToolMessage) merge(event StreamEvent) ToolMessage {
	merged := ToolMessage{
		ToolName: message.ToolName,
		State:    event.State,
		Input:    make(map[string]any, len(message.Input)+len(event.Input)),
		Output:   message.Output,
	}
	for key, value := range message.Input {
		merged.Input[key] = value
	}
	for key, value := range event.Input {
		merged.Input[key] = value
	}
	if event.Output != nil {
		merged.Output = event.Output
	}
	return merged
}

func newToolMessage(event StreamEvent) ToolMessage {
	input := event.Input
	if input == nil {
		input = map[string]any{}
	}
	return ToolMessage{
		ToolName: event.ToolName,
		State:    event.State,
		Input:    input,
		Output:   event.Output,
	}
}
