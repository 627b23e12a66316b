// Package inference adapts the GenAI client to the collaborators the
// assistant and the workflow engine consume: scene Q&A, hazard checks,
// location questions and telemetry reasoning.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/tidwall/gjson"
)

// Hazard check prompt and the prefix that marks a positive answer.
const (
	HazardPrompt = "Is there an immediate physical danger, obstacle, or wrong direction? Answer with 'STOP: [Reason]' or 'SAFE'."
	HazardPrefix = "STOP"
)

// Location query fallbacks.
const (
	LocationNoDescription = "I found the location but could not generate a description."
	LocationUnavailable   = "I am unable to access navigation systems at the moment."
)

// AgentFallback is used whenever the reasoning agent cannot produce a usable verdict.
var AgentFallback = models.AgentVerdict{
	Summary:  "Agent data link failure.",
	Decision: models.DecisionWarning,
}

const agentPromptTemplate = `You are an automated AI Agent responsible for system orchestration.
Summarize the following aggregated telemetry data from external systems (Biometrics, Environment, Hardware):
%s

Instructions:
1. Provide a "summary" (max 15 words) describing the current user and system state.
2. Make a "decision" on operational status: 'NORMAL' (all good), 'WARNING' (minor issues), or 'CRITICAL' (health or safety risk).

Return strictly valid JSON in this format:
{ "summary": "...", "decision": "..." }`

// Model is the subset of genai.Client used here.
type Model interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt, systemPrompt string) (string, error)
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Service implements the vision, navigation and reasoning collaborators.
type Service struct {
	model Model
}

// NewService creates a Service backed by the given model.
func NewService(model Model) *Service {
	return &Service{model: model}
}

// Analyze answers prompt about the frame. An empty answer is not an error.
func (s *Service) Analyze(ctx context.Context, frame models.CaptureFrame, prompt, systemPrompt string) (string, error) {
	text, err := s.model.AnalyzeImage(ctx, frame.Data, frame.MIMEType, prompt, systemPrompt)
	if err != nil {
		return "", fmt.Errorf("vision analysis failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// CheckHazard returns the warning text when the model reports a hazard, or
// the empty string when the scene is safe.
func (s *Service) CheckHazard(ctx context.Context, frame models.CaptureFrame) (string, error) {
	text, err := s.model.AnalyzeImage(ctx, frame.Data, frame.MIMEType, HazardPrompt, "")
	if err != nil {
		return "", fmt.Errorf("hazard check failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, HazardPrefix) {
		return "", nil
	}
	return text, nil
}

// AskLocation answers a place question relative to the given position.
// Collaborator failures are turned into a spoken fallback.
func (s *Service) AskLocation(ctx context.Context, question string, lat, lng float64) (string, error) {
	prompt := fmt.Sprintf("I am at latitude %v, longitude %v. User asks: %q. Find this place nearby and tell me exactly where it is and how to get there.", lat, lng, question)
	text, err := s.model.GeneratePromptWithContext(ctx, "", prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Error("Service.AskLocation: location query failed", "error", err)
		return LocationUnavailable, nil
	}
	if text = strings.TrimSpace(text); text == "" {
		return LocationNoDescription, nil
	}
	return text, nil
}

// AnalyzeTelemetry asks the reasoning agent for a verdict on the snapshot.
// Malformed or failed responses yield AgentFallback; only cancellation is
// reported as an error.
func (s *Service) AnalyzeTelemetry(ctx context.Context, snapshot models.TelemetrySnapshot) (models.AgentVerdict, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return models.AgentVerdict{}, fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	text, err := s.model.GenerateJSON(ctx, "", fmt.Sprintf(agentPromptTemplate, data))
	if err != nil {
		if ctx.Err() != nil {
			return models.AgentVerdict{}, ctx.Err()
		}
		slog.Error("Service.AnalyzeTelemetry: agent call failed", "error", err)
		return AgentFallback, nil
	}
	verdict, ok := ParseVerdict(text)
	if !ok {
		slog.Warn("Service.AnalyzeTelemetry: malformed agent response", "response", text)
		return AgentFallback, nil
	}
	return verdict, nil
}

// ParseVerdict extracts {summary, decision} from an agent answer, tolerating
// surrounding prose or code fences. Unknown decisions degrade to WARNING.
func ParseVerdict(text string) (models.AgentVerdict, bool) {
	raw := extractObject(text)
	if raw == "" || !gjson.Valid(raw) {
		return models.AgentVerdict{}, false
	}
	summary := strings.TrimSpace(gjson.Get(raw, "summary").String())
	if summary == "" {
		return models.AgentVerdict{}, false
	}
	decision := models.Decision(strings.ToUpper(strings.TrimSpace(gjson.Get(raw, "decision").String())))
	if !models.IsValidDecision(decision) {
		decision = models.DecisionWarning
	}
	return models.AgentVerdict{Summary: summary, Decision: decision}, true
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
