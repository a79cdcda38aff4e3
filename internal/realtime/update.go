// Package realtime defines the transport-agnostic contract between the conversation
// orchestrator and a bidirectional streaming conversational backend.
package realtime

// Update is one event received from the backend. The set of implementations is closed:
// only the types in this file satisfy it.
type Update interface {
	isUpdate()
}

// SessionStarted confirms the backend established the session.
type SessionStarted struct {
	SessionID string
}

// SpeechStarted reports that the backend detected the user speaking.
type SpeechStarted struct {
	AudioStartMs int
}

// SpeechFinished reports the end of detected user speech.
type SpeechFinished struct {
	AudioEndMs int
}

// InputTranscriptionFinished carries the final transcript of one user utterance.
type InputTranscriptionFinished struct {
	ItemID     string
	Transcript string
}

// OutputDelta is one incremental piece of a model response. Any field may be empty.
type OutputDelta struct {
	ItemID     string
	Audio      []byte
	Text       string
	Transcript string
}

// Fragment returns the text to accumulate for this delta: Text wins over Transcript.
func (d OutputDelta) Fragment() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Transcript
}

// ToolCallFinished is a completed tool call request from the model.
type ToolCallFinished struct {
	ItemID    string
	CallID    string
	Name      string
	Arguments string
}

// Item is one conversation item created by a response.
type Item struct {
	ID       string
	Type     string
	ToolName string
}

// ResponseFinished closes one response turn.
type ResponseFinished struct {
	ResponseID   string
	CreatedItems []Item
}

// RequestsFollowUp reports whether any created item is a tool call, meaning the
// model should get another turn to react to the tool results.
func (r ResponseFinished) RequestsFollowUp() bool {
	for _, item := range r.CreatedItems {
		if item.ToolName != "" {
			return true
		}
	}
	return false
}

// ErrorUpdate is a backend-reported failure. It is terminal for the session.
type ErrorUpdate struct {
	Code    string
	Message string
	Raw     []byte
}

func (SessionStarted) isUpdate()             {}
func (SpeechStarted) isUpdate()              {}
func (SpeechFinished) isUpdate()             {}
func (InputTranscriptionFinished) isUpdate() {}
func (OutputDelta) isUpdate()                {}
func (ToolCallFinished) isUpdate()           {}
func (ResponseFinished) isUpdate()           {}
func (ErrorUpdate) isUpdate()                {}

// Kind returns a short stable label for an update, used in logs and metrics.
func Kind(u Update) string {
	switch u.(type) {
	case SessionStarted:
		return "session_started"
	case SpeechStarted:
		return "speech_started"
	case SpeechFinished:
		return "speech_finished"
	case InputTranscriptionFinished:
		return "input_transcription_finished"
	case OutputDelta:
		return "output_delta"
	case ToolCallFinished:
		return "tool_call_finished"
	case ResponseFinished:
		return "response_finished"
	case ErrorUpdate:
		return "error"
	default:
		return "unknown"
	}
}
