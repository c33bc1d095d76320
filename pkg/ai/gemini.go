package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
}

type GeminiClient struct {
	models     contentGenerator
	model      string
	config     *genai.GenerateContentConfig
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

var _ Generator = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiClient(gi.Models, cfg, log), nil
}

func newGeminiClient(m contentGenerator, cfg GeminiConfig, log *slog.Logger) *GeminiClient {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(persona, genai.RoleUser),
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		genCfg.Temperature = &t
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	log = logging.Or(log).With("component", "gemini_client")
	log.Info("gemini client initialized", "model", cfg.Model)
	return &GeminiClient{
		models:     m,
		model:      cfg.Model,
		config:     genCfg,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log,
	}
}

// Generate sends one prompt and returns the answer with the disclaimer.
// Blocked or empty responses are errors.
func (c *GeminiClient) Generate(ctx context.Context, category models.Category, promptContext string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(category, promptContext), genai.RoleUser),
	}

	resp, err := c.generateWithRetries(ctx, contents)
	if err != nil {
		return "", err
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		reason := string(resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.WarnContext(ctx, "gemini request blocked", "category", category, "reason", reason)
		return "", fmt.Errorf("gemini request blocked: %s", reason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini returned empty content")
	}
	return WithDisclaimer(text), nil
}

func (c *GeminiClient) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.models.GenerateContent(ctx, c.model, contents, c.config)
		if err == nil {
			if resp == nil {
				return nil, errors.New("gemini returned nil response")
			}
			return resp, nil
		}

		code, retriable := serverErrorCode(err)
		if !retriable || attempt >= c.maxRetries {
			c.log.ErrorContext(ctx, "gemini call failed", "attempt", attempt+1, "error", err)
			return nil, fmt.Errorf("gemini call failed after %d attempts: %w", attempt+1, err)
		}

		c.log.WarnContext(ctx, "retrying gemini call", "attempt", attempt+1, "code", code, "delay", c.retryDelay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gemini retry aborted: %w", ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}
}

// serverErrorCode reports whether err is a Gemini 500 or 503. The client
// returns genai.APIError by value.
func serverErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.Code, apiErr.Code == 500 || apiErr.Code == 503
}
