package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wordchat/internal/domain"
)

// ErrNoAnswer covers every way a provider can fail to produce text: transport
// errors, non-2xx statuses, malformed bodies and empty answers.
var ErrNoAnswer = errors.New("no answer")

const maxResponseBytes = 1 << 20

// PLI talks to a completion endpoint that takes {"prompt"} and returns {"response"}.
// It never receives conversation context.
type PLI struct {
	label   string
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

type PLIConfig struct {
	Label   string
	URL     string
	Timeout time.Duration
	Client  *http.Client // optional
	Logger  *slog.Logger
}

func NewPLI(cfg PLIConfig) *PLI {
	if cfg.Label == "" {
		cfg.Label = "PLI 7"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PLI{
		label:   cfg.Label,
		url:     cfg.URL,
		client:  cfg.Client,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (p *PLI) Name() string { return p.label }

type pliRequest struct {
	Prompt string `json:"prompt"`
}

type pliResponse struct {
	Response *string `json:"response"`
}

// Complete sends only req.Prompt; Context and System are ignored.
func (p *PLI) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(pliRequest{Prompt: req.Prompt})
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", p.label, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", p.label, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Debug("completion request failed", "provider", p.label, "error", err)
		return "", fmt.Errorf("%s: %w: %v", p.label, ErrNoAnswer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("%s: %w: status %d", p.label, ErrNoAnswer, resp.StatusCode)
	}

	var out pliResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: %w: decode: %v", p.label, ErrNoAnswer, err)
	}
	if out.Response == nil || strings.TrimSpace(*out.Response) == "" {
		return "", fmt.Errorf("%s: %w: empty response", p.label, ErrNoAnswer)
	}
	return *out.Response, nil
}
