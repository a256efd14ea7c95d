package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"wordchat/internal/domain"
)

// Gemini answers through the generateContent API. Unlike PLI it is given the
// conversation context and standing instructions.
type Gemini struct {
	label   string
	model   string
	client  *genai.Client
	timeout time.Duration
	logger  *slog.Logger
}

type GeminiConfig struct {
	Label   string
	APIKey  string
	BaseURL string // empty = SDK default endpoint
	Model   string
	Timeout time.Duration
	Client  *http.Client // optional
	Logger  *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Label == "" {
		cfg.Label = "Gemini"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-flash-lite-latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.Client,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Gemini{
		label:   cfg.Label,
		model:   cfg.Model,
		client:  client,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

func (g *Gemini) Name() string { return g.label }

// Complete sends System, Context and Prompt as a single user turn, the layout
// the endpoint has always been prompted with.
func (g *Gemini) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var prompt strings.Builder
	if req.System != "" {
		prompt.WriteString(req.System)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString(req.Context)
	prompt.WriteString(req.Prompt)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt.String(), genai.RoleUser)},
		nil,
	)
	if err != nil {
		g.logger.Debug("completion request failed", "provider", g.label, "error", err)
		return "", fmt.Errorf("%s: %w: %v", g.label, ErrNoAnswer, err)
	}

	text, ok := firstCandidateText(resp)
	if !ok {
		return "", fmt.Errorf("%s: %w: no candidate text", g.label, ErrNoAnswer)
	}
	return text, nil
}

// firstCandidateText reads candidates[0].content.parts[0].text, treating a gap
// at any level as no answer.
func firstCandidateText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 || c.Content.Parts[0] == nil {
		return "", false
	}
	text := c.Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
