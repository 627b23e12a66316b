// Package models defines the core data structures for Jarvis.
//
// It includes the operating modes, captured frames, location fixes and the API
// response envelope, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the exclusive interpretation context that decides which analysis
// branch and which resources are active.
type Mode string

const (
	// ModeVisualAid describes the scene on demand.
	ModeVisualAid Mode = "VISUAL_AID"
	// ModeSocialEye biases answers toward emotions and social cues.
	ModeSocialEye Mode = "SOCIAL_EYE"
	// ModeNavigation runs throttled hazard checks and location queries.
	ModeNavigation Mode = "NAVIGATION"
	// ModeSignInterpreter classifies hand gestures into phrases.
	ModeSignInterpreter Mode = "SIGN_INTERPRETER"
	// ModeAuditoryAssistant is voice only; the camera is not sampled.
	ModeAuditoryAssistant Mode = "AUDITORY_ASSISTANT"
)

// DefaultMode is the mode the assistant starts in.
const DefaultMode = ModeVisualAid

// AllModes lists every mode in display order.
var AllModes = []Mode{
	ModeVisualAid,
	ModeSocialEye,
	ModeNavigation,
	ModeSignInterpreter,
	ModeAuditoryAssistant,
}

// ErrUnknownMode is returned when a mode string does not name a mode.
var ErrUnknownMode = errors.New("unknown mode")

// IsValidMode checks if the given mode is supported.
func IsValidMode(m Mode) bool {
	for _, known := range AllModes {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode converts a user supplied string into a Mode. Matching ignores case
// and accepts spaces or dashes in place of underscores.
func ParseMode(s string) (Mode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	m := Mode(normalized)
	if !IsValidMode(m) {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Label renders the mode for narration, e.g. "SIGN INTERPRETER".
func (m Mode) Label() string {
	return strings.ReplaceAll(string(m), "_", " ")
}

// UsesCamera reports whether frames are sampled while this mode is active.
func (m Mode) UsesCamera() bool {
	return IsValidMode(m) && m != ModeAuditoryAssistant
}

// CaptureFrame is one sampled image handed to the analysis dispatcher.
type CaptureFrame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	CapturedAt time.Time `json:"captured_at"`
	// Mode and Epoch identify the mode activation the frame was captured under.
	Mode  Mode   `json:"mode"`
	Epoch uint64 `json:"epoch"`
}

// LocationFix is the last known device position.
type LocationFix struct {
	Lat   float64   `json:"lat"`
	Lng   float64   `json:"lng"`
	FixAt time.Time `json:"fix_at"`
}

// String renders the fix with four decimals, the precision shown to users.
func (f LocationFix) String() string {
	return fmt.Sprintf("%.4f, %.4f", f.Lat, f.Lng)
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates the request was valid but caused no change.
	APIStatusIgnored APIStatus = "ignored"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Ignored creates a response for a valid request that changed nothing.
func Ignored(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusIgnored).
		WithMessage(message).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
