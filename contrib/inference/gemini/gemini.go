package gemini

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/inference"
	"github.com/edmondsbay/consult/message"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// Provider implements the inference.Client interface for Google Gemini
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini provider using the official SDK
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key not configured", consulterrors.ErrInvalidInput)
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Provider{
		config: config,
		client: client,
	}, nil
}

// Generate implements inference.Client.
func (p *Provider) Generate(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: generate request cannot be nil", consulterrors.ErrInvalidInput)
	}

	model := p.client.GenerativeModel(p.config.Model)
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}
	temperature := p.config.Temperature
	if req.Temperature > 0 {
		temperature = float32(req.Temperature)
	}
	if temperature > 0 {
		model.SetTemperature(temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	// Gemini keeps system text outside the conversation turns.
	var systemPrompts []string
	var userParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		default:
			userParts = append(userParts, msg.Content)
		}
	}
	if len(systemPrompts) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(systemPrompts, "\n"))},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(strings.Join(userParts, "\n\n")))
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: gemini: %v", consulterrors.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: gemini: %v", consulterrors.ErrServiceUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: gemini returned no candidates", consulterrors.ErrServiceUnavailable)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return &inference.Response{
		Message: message.NewMessage(message.RoleAssistant, b.String()),
	}, nil
}

// Close releases the underlying SDK client.
func (p *Provider) Close() error {
	return p.client.Close()
}
