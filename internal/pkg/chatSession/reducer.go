package chatSession

import "github.com/rs/zerolog/log"

type ErrorKind string

const (
	// ErrorKindStream is an error reported by the orchestrator inside the stream.
	ErrorKindStream ErrorKind = "stream"
	// ErrorKindConnectionLost is a transport failure, the user may reconnect.
	ErrorKindConnectionLost ErrorKind = "connection-lost"
)

const connectionLostMessage = "Connection lost to sandbox. Please reconnect."

type SessionError struct {
	Kind    ErrorKind
	Message string
}

func (sessionError *SessionError) Error() string {
	return sessionError.Message
}

// State is everything one conversation renders. Reduce never mutates the Messages
// slice of its input, so a State can be handed out as a snapshot.
type State struct {
	Messages []ChatMessage
	// AssistantText accumulates content deltas of the assistant message in progress.
	AssistantText string
	Loading       bool
	Processing    bool
	// Finished is set by a terminal event; later events are ignored.
	Finished bool
	Err      *SessionError
}

func Reduce(state State, event StreamEvent) State {
	if state.Finished {
		return state
	}

	switch {
	case event.Error != "":
		state.Err = &SessionError{Kind: ErrorKindStream, Message: event.Error}
		state.Loading = false
		state.Processing = false
		state.Finished = true
		return state

	case event.Chunk == heartbeatChunk:
		state.Processing = true
		return state

	case event.Type == EventTypeContent:
		state.Processing = false
		state.AssistantText += event.Content
		assistant := AssistantMessage{Content: state.AssistantText}
		if _, ok := last(state.Messages).(AssistantMessage); ok {
			state.Messages = replaceLast(state.Messages, assistant)
		} else {
			state.Messages = appended(state.Messages, assistant)
		}

	case event.Type == EventTypeTool:
		if event.ToolName == "" {
			log.Warn().Str("state", string(event.State)).Msg("tool event without tool name ignored")
			break
		}
		// Content after a tool event belongs to a new assistant message.
		state.AssistantText = ""
		if tool, ok := last(state.Messages).(ToolMessage); ok && tool.ToolName == event.ToolName {
			state.Messages = replaceLast(state.Messages, tool.merge(event))
		} else {
			state.Messages = appended(state.Messages, newToolMessage(event))
		}
	}

	if event.Done {
		state.Loading = false
		state.Processing = false
		state.Finished = true
	}

	return state
}

func last(messages []ChatMessage) ChatMessage {
	if len(messages) == 0 {
		return nil
	}
	return messages[len(messages)-1]
}

func appended(messages []ChatMessage, message ChatMessage) []ChatMessage {
	result := make([]ChatMessage, len(messages), len(messages)+1)
	copy(result, messages)
	return append(result, message)
}

func replaceLast(messages []ChatMessage, message ChatMessage) []ChatMessage {
	result := make([]ChatMessage, len(messages))
	copy(result, messages)
	result[len(result)-1] = message
	return result
}
