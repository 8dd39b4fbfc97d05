package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SergeiKhy/affiliate-tracker/internal/config"
	"go.uber.org/zap"
)

// GroqClient is a minimal client for the chat-completions endpoint used for
// niche analyses. Call timeouts come from the caller's context; the cache
// layer in front of this client is what bounds them.
type GroqClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
	logger *zap.Logger
}

func NewGroqClient(cfg config.AnalysisConfig, logger *zap.Logger) *GroqClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroqClient{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		url:    cfg.URL,
		http:   &http.Client{},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// AnalyzeNiche asks the provider for an affiliate-marketing breakdown of a
// niche. The query is assumed already normalized by the cache layer.
func (c *GroqClient) AnalyzeNiche(ctx context.Context, query string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("groq api key is not configured")
	}

	prompt := fmt.Sprintf(
		"As an expert affiliate marketer, analyze the %q niche: market size and audience, "+
			"high-converting product categories and typical commission rates, content strategy, "+
			"competition level, and three specific product types to promote. Keep it under 1500 characters.",
		query,
	)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an expert affiliate marketing analyst."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   1500,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Groq API returned an error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return "", fmt.Errorf("groq api error: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("groq response has no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
