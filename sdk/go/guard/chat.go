package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultChatBaseURL = "https://api.openai.com/v1"
	defaultChatModel   = "gpt-4o-mini"
	defaultChatTimeout = 60 * time.Second
)

// ChatConfig describes an OpenAI compatible chat completions endpoint.
type ChatConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// ChatCaller sends each prompt as a single user message to a chat
// completions endpoint and returns the first choice.
type ChatCaller struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

// NewChatCaller validates cfg and fills defaults.
func NewChatCaller(cfg ChatConfig) (*ChatCaller, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("chat caller: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultChatBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultChatModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultChatTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ChatCaller{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		httpClient:   httpClient,
	}, nil
}

// Model returns the model name sent with every request.
func (c *ChatCaller) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Call implements Caller.
func (c *ChatCaller) Call(ctx context.Context, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	payload, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}
