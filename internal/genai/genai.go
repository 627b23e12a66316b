// Package genai provides GenAI-enhanced operations using OpenAI API.
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 300
	DefaultSpeechSpeed = 1.1
)

// ErrNoChoicesReturned is returned when the model answers with no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrNoAPIKey is returned by NewClient when no API key is configured.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY not set")

var tracer = otel.Tracer("github.com/8428215330a-ui/Jarvis/internal/genai")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// speechService defines minimal interface for text to speech.
type speechService interface {
	Synthesize(ctx context.Context, params openai.AudioSpeechNewParams) (io.ReadCloser, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type speechAdapter struct {
	svc *openai.AudioSpeechService
}

func (a speechAdapter) Synthesize(ctx context.Context, params openai.AudioSpeechNewParams) (io.ReadCloser, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("speech endpoint returned %s", resp.Status)
	}
	return resp.Body, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	MaxTokens         int64
	RequestsPerSecond float64
	DebugMode         bool
	StateDir          string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for every completion.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the client at an OpenAI compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(tokens int64) Option {
	return func(o *Opts) { o.MaxTokens = tokens }
}

// WithRateLimit limits outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(o *Opts) { o.RequestsPerSecond = rps }
}

// WithDebugMode writes every call and its response under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat and speech services.
type Client struct {
	chat        chatService
	speech      speechService
	model       string
	temperature float64
	maxTokens   int64
	limiter     *rate.Limiter
	debugMode   bool
	stateDir    string
}

// NewClient initializes a new GenAI client. The API key comes from
// WithAPIKey or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       string(DefaultModel),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	c := &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		speech:      speechAdapter{svc: &cli.Audio.Speech},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	slog.Debug("genai.NewClient: client initialized", "model", c.model, "baseURL", cfg.BaseURL, "rps", cfg.RequestsPerSecond)
	return c, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string { return c.model }

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt with caller supplied cancellation.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.baseParams(systemPrompt, openai.UserMessage(userPrompt))
	return c.complete(ctx, "GeneratePromptWithContext", params)
}

// AnalyzeImage sends one image plus a text prompt to a vision capable model.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt, systemPrompt string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty image payload")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	user := openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		openai.TextContentPart(prompt),
	})
	params := c.baseParams(systemPrompt, user)
	return c.complete(ctx, "AnalyzeImage", params)
}

// GenerateJSON requests a JSON object response.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.baseParams(systemPrompt, openai.UserMessage(userPrompt))
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	return c.complete(ctx, "GenerateJSON", params)
}

// Synthesize converts text to mp3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.speech == nil {
		return nil, fmt.Errorf("speech service not configured")
	}
	ctx, span := tracer.Start(ctx, "genai.Synthesize", trace.WithAttributes(attribute.Int("genai.input_chars", len(text))))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.speech.Synthesize(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoiceAlloy,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(DefaultSpeechSpeed),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer body.Close()
	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	return audio, nil
}

func (c *Client) baseParams(systemPrompt string, user openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, user)
	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}
	return params
}

func (c *Client) complete(ctx context.Context, method string, params openai.ChatCompletionNewParams) (string, error) {
	ctx, span := tracer.Start(ctx, "genai."+method, trace.WithAttributes(attribute.String("genai.model", c.model)))
	defer span.End()

	if err := c.wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Client."+method+": chat completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog(method, params, resp)
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, ErrNoChoicesReturned.Error())
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("Client."+method+": completion received", "model", c.model, "chars", len(content), "elapsed", time.Since(start))
	return content, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

type debugLog struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
}

// writeDebugLog records the call under <stateDir>/debug. Failures are logged only.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug dir", "error", err, "dir", dir)
		return
	}
	entry := debugLog{
		Timestamp: time.Now(),
		Method:    method,
		Model:     c.model,
		Params:    params,
		Response:  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("Client.writeDebugLog: failed to write debug entry", "error", err)
	}
}
