// Package protocol implements the wire codec for the control channel (§6):
// a closed set of JSON message types exchanged over a bidirectional
// transport and mirrored onto the peer data channel when one is open.
// Envelope + typed-struct + switch-based parse shape grounded on
// `_examples/ent0n29-samantha/internal/protocol/messages.go`, rewritten
// against the gateway's own message set (reconnect/offer/signal/attachments
// in, the task-approval-specific types the teacher carried are dropped —
// this gateway has no task runtime on the wire).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server
	TypePing        MessageType = "ping"
	TypeReconnect   MessageType = "reconnect"
	TypeOffer       MessageType = "offer"
	TypeSignal      MessageType = "signal"
	TypeAudio       MessageType = "audio"
	TypeAttachments MessageType = "attachments"

	// Server -> client
	TypeReady          MessageType = "ready"
	TypePong           MessageType = "pong"
	TypeReconnectAck   MessageType = "reconnect-ack"
	TypeTranscript     MessageType = "transcript"
	TypeLLMChunk       MessageType = "llm-chunk"
	TypeLLM            MessageType = "llm"
	TypeTTSStart       MessageType = "tts-start"
	TypeTTSChunk       MessageType = "tts-chunk"
	TypeTTS            MessageType = "tts"
	TypeTTSComplete    MessageType = "tts-complete"
	TypeTTSCancelled   MessageType = "tts-cancelled"
	TypeSpeechStart    MessageType = "speech-start"
	TypeSpeechEnd      MessageType = "speech-end"
	TypeToolCallStart  MessageType = "tool-call-start"
	TypeToolCallEnd    MessageType = "tool-call-end"
	TypeStageChange    MessageType = "stage-change"
	TypeError          MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Attachment mirrors the queued-vision wire shape carried by `audio` and
// `attachments` messages.
type Attachment struct {
	MediaType string `json:"media_type"`
	DataBase64 string `json:"data_base64"`
}

// ---- Client -> server ----

type Ping struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

type Reconnect struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type Offer struct {
	Type   MessageType     `json:"type"`
	Signal json.RawMessage `json:"signal"`
}

type Signal struct {
	Type   MessageType     `json:"type"`
	Signal json.RawMessage `json:"signal"`
}

type Audio struct {
	Type        MessageType  `json:"type"`
	Data        string       `json:"data"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachments struct {
	Type        MessageType  `json:"type"`
	Attachments []Attachment `json:"attachments"`
}

// ---- Server -> client ----

type Ready struct {
	Type            MessageType `json:"type"`
	ID              string      `json:"id"`
	ProtocolVersion int         `json:"protocolVersion"`
}

type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

type ReconnectAck struct {
	Type             MessageType `json:"type"`
	Success          bool        `json:"success"`
	SessionID        string      `json:"sessionId"`
	HistoryRecovered bool        `json:"historyRecovered"`
}

type Transcript struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"isFinal"`
}

type LLMChunk struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	Done    bool        `json:"done"`
}

type LLMFinalMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type TTSStartMessage struct {
	Type MessageType `json:"type"`
}

type TTSChunkMessage struct {
	Type       MessageType `json:"type"`
	Format     string      `json:"format"`
	SampleRate int         `json:"sampleRate"`
	Data       string      `json:"data"`
}

type TTSMessage struct {
	Type   MessageType `json:"type"`
	Format string      `json:"format"`
	Data   string      `json:"data"`
}

type TTSCompleteMessage struct {
	Type MessageType `json:"type"`
}

type TTSCancelledMessage struct {
	Type MessageType `json:"type"`
}

type SpeechStartMessage struct {
	Type MessageType `json:"type"`
}

type SpeechEndMessage struct {
	Type MessageType `json:"type"`
}

type ToolCallStartMessage struct {
	Type      MessageType    `json:"type"`
	Name      string         `json:"name"`
	CallID    string         `json:"callId"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallEndMessage struct {
	Type       MessageType `json:"type"`
	CallID     string      `json:"callId"`
	Result     any         `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

type StageChangeMessage struct {
	Type   MessageType `json:"type"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Reason string      `json:"reason"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// clientInbound is the permissive superset struct every inbound message is
// first decoded into; ParseClientMessage then validates and narrows by Type.
type clientInbound struct {
	Type        MessageType     `json:"type"`
	Timestamp   int64           `json:"timestamp"`
	SessionID   string          `json:"sessionId"`
	Signal      json.RawMessage `json:"signal"`
	Data        string          `json:"data"`
	Attachments []Attachment    `json:"attachments"`
}

// ParseClientMessage decodes and validates one inbound control message.
func ParseClientMessage(raw []byte) (any, error) {
	var inbound clientInbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch inbound.Type {
	case TypePing:
		return Ping{Type: TypePing, Timestamp: inbound.Timestamp}, nil
	case TypeReconnect:
		if inbound.SessionID == "" {
			return nil, errors.New("invalid reconnect: missing sessionId")
		}
		return Reconnect{Type: TypeReconnect, SessionID: inbound.SessionID}, nil
	case TypeOffer:
		return Offer{Type: TypeOffer, Signal: inbound.Signal}, nil
	case TypeSignal:
		return Signal{Type: TypeSignal, Signal: inbound.Signal}, nil
	case TypeAudio:
		if inbound.Data == "" {
			return nil, errors.New("invalid audio: missing data")
		}
		return Audio{Type: TypeAudio, Data: inbound.Data, Attachments: inbound.Attachments}, nil
	case TypeAttachments:
		return Attachments{Type: TypeAttachments, Attachments: inbound.Attachments}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MessageTypeOf extracts the wire Type of a server-bound message value, for
// metrics labeling at the outbound write site.
func MessageTypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Ready:
		return m.Type, true
	case Pong:
		return m.Type, true
	case ReconnectAck:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case LLMChunk:
		return m.Type, true
	case LLMFinalMessage:
		return m.Type, true
	case TTSStartMessage:
		return m.Type, true
	case TTSChunkMessage:
		return m.Type, true
	case TTSMessage:
		return m.Type, true
	case TTSCompleteMessage:
		return m.Type, true
	case TTSCancelledMessage:
		return m.Type, true
	case SpeechStartMessage:
		return m.Type, true
	case SpeechEndMessage:
		return m.Type, true
	case ToolCallStartMessage:
		return m.Type, true
	case ToolCallEndMessage:
		return m.Type, true
	case StageChangeMessage:
		return m.Type, true
	case ErrorMessage:
		return m.Type, true
	case Signal:
		return m.Type, true
	default:
		return "", false
	}
}
