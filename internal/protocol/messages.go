package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTranscription MessageType = "client_transcription"
	TypeClientAudioChunk    MessageType = "client_audio_chunk"
	TypeClientControl       MessageType = "client_control"
	TypeStateChanged        MessageType = "state_changed"
	TypeUserTurn            MessageType = "user_turn"
	TypeCompanionTextDelta  MessageType = "companion_text_delta"
	TypeCompanionAudio      MessageType = "companion_audio"
	TypePlaybackEvent       MessageType = "playback_event"
	TypeSessionSummary      MessageType = "session_summary"
	TypeErrorEvent          MessageType = "error_event"
)

// Client control actions.
const (
	ActionStartSession = "start_session"
	ActionEndSession   = "end_session"
	ActionBargeIn      = "barge_in"
	ActionReportError  = "report_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTranscription carries one streaming recognizer update relayed by
// the client: partial or final text plus the current microphone level.
type ClientTranscription struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	SoundLevel float64     `json:"sound_level"`
	IsFinal    bool        `json:"is_final"`
	TSMs       int64       `json:"ts_ms"`
}

// ClientAudioChunk carries raw microphone audio for server-side
// recognition, base64-encoded 16-bit PCM. Commit asks the recognizer to
// finalize the current utterance.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int64       `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	Commit      bool        `json:"commit"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl carries a session command. For report_error the client
// names the failure it hit on its side (e.g. a denied microphone
// permission) and whether it considers the failure recoverable.
type ClientControl struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Action      string      `json:"action"`
	Code        string      `json:"code,omitempty"`
	Recoverable bool        `json:"recoverable,omitempty"`
}

type StateChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Substate  string      `json:"substate,omitempty"`
}

// UserTurn announces a completed user turn and how it was detected.
type UserTurn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
	Text      string      `json:"text"`
	Reason    string      `json:"reason"`
}

type CompanionTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

// CompanionAudio carries one synthesized playback item as a WAV payload.
type CompanionAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ItemID      string      `json:"item_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	DurationMs  int64       `json:"duration_ms"`
}

type PlaybackEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	ItemID    string      `json:"item_id,omitempty"`
}

type SessionSummary struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	Summary         string      `json:"summary,omitempty"`
	Discarded       bool        `json:"discarded"`
	TokenEfficiency float64     `json:"token_efficiency,omitempty"`
	DurationMs      int64       `json:"duration_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTranscription:
		var msg ClientTranscription
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_transcription")
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.PCM16Base64 == "" && !msg.Commit {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStartSession, ActionEndSession, ActionBargeIn:
		case ActionReportError:
			if msg.Code == "" {
				return nil, errors.New("report_error requires a code")
			}
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
