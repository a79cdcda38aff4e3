// Package wire encodes and decodes the JSON event vocabulary of the OpenAI realtime API.
// It is shared by every transport that speaks that vocabulary, whatever the framing.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gravicode/talkingbot/internal/realtime"
)

// Server event types consumed by the orchestrator.
const (
	EventSessionCreated               = "session.created"
	EventSpeechStarted                = "input_audio_buffer.speech_started"
	EventSpeechStopped                = "input_audio_buffer.speech_stopped"
	EventInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	EventResponseAudioDelta           = "response.audio.delta"
	EventResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventResponseTextDelta            = "response.text.delta"
	EventResponseOutputItemDone       = "response.output_item.done"
	EventResponseDone                 = "response.done"
	EventError                        = "error"
)

// Client event types produced by the orchestrator.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
)

const itemTypeFunctionCall = "function_call"

type serverEvent struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id"`
	Session      *sessionInfo `json:"session"`
	ItemID       string       `json:"item_id"`
	AudioStartMs int          `json:"audio_start_ms"`
	AudioEndMs   int          `json:"audio_end_ms"`
	Transcript   string       `json:"transcript"`
	Delta        string       `json:"delta"`
	Item         *item        `json:"item"`
	Response     *response    `json:"response"`
	Error        *apiError    `json:"error"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

type item struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

type response struct {
	ID     string `json:"id"`
	Output []item `json:"output"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode maps one raw server event to an Update. The boolean is false for event types
// the orchestrator does not consume.
func Decode(raw []byte) (realtime.Update, bool, error) {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, false, fmt.Errorf("decode server event: %w", err)
	}

	switch ev.Type {
	case EventSessionCreated:
		id := ""
		if ev.Session != nil {
			id = ev.Session.ID
		}
		return realtime.SessionStarted{SessionID: id}, true, nil
	case EventSpeechStarted:
		return realtime.SpeechStarted{AudioStartMs: ev.AudioStartMs}, true, nil
	case EventSpeechStopped:
		return realtime.SpeechFinished{AudioEndMs: ev.AudioEndMs}, true, nil
	case EventInputTranscriptionCompleted:
		return realtime.InputTranscriptionFinished{ItemID: ev.ItemID, Transcript: ev.Transcript}, true, nil
	case EventResponseAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, false, fmt.Errorf("decode audio delta: %w", err)
		}
		return realtime.OutputDelta{ItemID: ev.ItemID, Audio: audio}, true, nil
	case EventResponseAudioTranscriptDelta:
		return realtime.OutputDelta{ItemID: ev.ItemID, Transcript: ev.Delta}, true, nil
	case EventResponseTextDelta:
		return realtime.OutputDelta{ItemID: ev.ItemID, Text: ev.Delta}, true, nil
	case EventResponseOutputItemDone:
		if ev.Item == nil || ev.Item.Type != itemTypeFunctionCall {
			return nil, false, nil
		}
		return realtime.ToolCallFinished{
			ItemID:    ev.Item.ID,
			CallID:    ev.Item.CallID,
			Name:      ev.Item.Name,
			Arguments: ev.Item.Arguments,
		}, true, nil
	case EventResponseDone:
		finished := realtime.ResponseFinished{}
		if ev.Response != nil {
			finished.ResponseID = ev.Response.ID
			for _, out := range ev.Response.Output {
				created := realtime.Item{ID: out.ID, Type: out.Type}
				if out.Type == itemTypeFunctionCall {
					created.ToolName = out.Name
				}
				finished.CreatedItems = append(finished.CreatedItems, created)
			}
		}
		return finished, true, nil
	case EventError:
		update := realtime.ErrorUpdate{Raw: append([]byte(nil), raw...)}
		if ev.Error != nil {
			update.Code = ev.Error.Code
			update.Message = ev.Error.Message
		}
		if update.Message == "" {
			update.Message = "unspecified backend error"
		}
		return update, true, nil
	default:
		return nil, false, nil
	}
}

// NewEventID returns a fresh client event id.
func NewEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// SessionUpdate builds the session.update event carrying the session configuration.
func SessionUpdate(cfg realtime.SessionConfig) map[string]any {
	session := map[string]any{
		"modalities":          []any{"text", "audio"},
		"instructions":        cfg.Instructions,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection":      map[string]any{"type": "server_vad"},
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]any{"model": cfg.TranscriptionModel}
	}
	if len(cfg.Tools) > 0 {
		tools := make([]any, 0, len(cfg.Tools))
		for _, tool := range cfg.Tools {
			params := tool.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  params,
			})
		}
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}

	return map[string]any{
		"event_id": NewEventID(),
		"type":     EventSessionUpdate,
		"session":  session,
	}
}

// AudioAppend builds an input_audio_buffer.append event for one PCM chunk.
func AudioAppend(chunk []byte) map[string]any {
	return map[string]any{
		"event_id": NewEventID(),
		"type":     EventInputAudioBufferAppend,
		"audio":    base64.StdEncoding.EncodeToString(chunk),
	}
}

// ToolOutput builds the conversation item carrying a tool result.
func ToolOutput(callID, output string) map[string]any {
	return map[string]any{
		"event_id": NewEventID(),
		"type":     EventConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
}

// ResponseCreate builds a response.create event requesting a new response turn.
func ResponseCreate() map[string]any {
	return map[string]any{
		"event_id": NewEventID(),
		"type":     EventResponseCreate,
	}
}
