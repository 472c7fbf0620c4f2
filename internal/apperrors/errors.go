// Package apperrors implements the gateway's error taxonomy (C12): a closed
// set of string error codes, a typed Error carrying component/retryable
// metadata, and the wire shape clients observe.
package apperrors

import "fmt"

// Code is one of the fixed error-code constants below. Wire messages carry
// it verbatim.
type Code string

const (
	CodeWebRTCUnavailable    Code = "WEBRTC_UNAVAILABLE"
	CodeAudioProcessingError Code = "AUDIO_PROCESSING_ERROR"
	CodeSTTError             Code = "STT_ERROR"
	CodeLLMError             Code = "LLM_ERROR"
	CodeTTSError             Code = "TTS_ERROR"
	CodeInvalidMessage       Code = "INVALID_MESSAGE"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

// Component labels the subsystem an error counter should be tagged with.
type Component string

const (
	ComponentTransport  Component = "transport"
	ComponentSTT        Component = "stt"
	ComponentLLM        Component = "llm"
	ComponentTTS        Component = "tts"
	ComponentTool       Component = "tool"
	ComponentSession    Component = "session"
	ComponentSupervisor Component = "supervisor"
)

// Error is the typed error value that flows from providers/components into
// TurnEvent.Error and the wire error{} message. It is a value, not an
// exception: only truly unexpected states should panic, and those are always
// caught at the Supervisor boundary (see internal/supervisor).
type Error struct {
	Code      Code
	Message   string
	Component Component
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a terminal (non-retryable) Error.
func New(code Code, component Component, message string) *Error {
	return &Error{Code: code, Component: component, Message: message}
}

// Newf builds a terminal Error with a formatted message.
func Newf(code Code, component Component, format string, args ...any) *Error {
	return &Error{Code: code, Component: component, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around cause, classifying it retryable or not.
func Wrap(code Code, component Component, cause error, retryable bool) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Component: component, Message: msg, Cause: cause, Retryable: retryable}
}

// STT wraps a transcription failure. Non-LLM providers never retry at this
// layer, so Retryable is always false here.
func STT(cause error) *Error {
	return Wrap(CodeSTTError, ComponentSTT, cause, false)
}

// LLM wraps a language-model failure with the given retry classification.
func LLM(cause error, retryable bool) *Error {
	return Wrap(CodeLLMError, ComponentLLM, cause, retryable)
}

// TTS wraps a speech-synthesis failure. Non-LLM providers never retry at
// this layer.
func TTS(cause error) *Error {
	return Wrap(CodeTTSError, ComponentTTS, cause, false)
}

// SessionNotFound reports a reconnect against an id the store doesn't have.
func SessionNotFound(sessionID string) *Error {
	return Newf(CodeSessionNotFound, ComponentSession, "no live session %q", sessionID)
}

// InvalidMessage reports a malformed inbound wire message.
func InvalidMessage(detail string) *Error {
	return New(CodeInvalidMessage, ComponentTransport, detail)
}

// Internal wraps an unexpected internal failure; the connection is closed
// but the session is not destroyed.
func Internal(cause error) *Error {
	return Wrap(CodeInternalError, ComponentSupervisor, cause, false)
}
