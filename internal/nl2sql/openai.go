package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const maxErrorBodyBytes = 1024

type LookupFunc func(string) (string, bool)

type OpenAIConfig struct {
	BaseURL string
	Model   string
	// TokenEnv names the variable holding the service token. It is looked up on
	// every call so a rotated token applies to the next request.
	TokenEnv string
	// Project is appended to the token as "<token>:<project>".
	Project string
	// Timeout of zero leaves the transport default in place.
	Timeout    time.Duration
	Lookup     LookupFunc
	HTTPClient *http.Client
}

type OpenAIClient struct {
	baseURL  string
	model    string
	tokenEnv string
	project  string
	lookup   LookupFunc
	client   *http.Client
}

var _ Generator = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.TokenEnv) == "" {
		return nil, fmt.Errorf("token env name is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:    model,
		tokenEnv: strings.TrimSpace(cfg.TokenEnv),
		project:  strings.TrimSpace(cfg.Project),
		lookup:   lookup,
		client:   client,
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt as a single user message and returns the content of
// the first choice. It makes exactly one attempt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	credential, err := c.credential()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, Err: fmt.Errorf("marshal chat payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, Err: fmt.Errorf("build chat request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, Err: fmt.Errorf("request chat completion: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GenerationError{Kind: KindTransport, Err: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GenerationError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(rawRespBody), maxErrorBodyBytes),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", &GenerationError{Kind: KindMalformedResponse, Err: fmt.Errorf("decode chat completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &GenerationError{Kind: KindMalformedResponse, Err: errors.New("empty chat completion choices")}
	}
	content := parsed.Choices[0].Message.Content
	if content == nil {
		return "", &GenerationError{Kind: KindMalformedResponse, Err: errors.New("chat completion choice has no message content")}
	}
	return *content, nil
}

func (c *OpenAIClient) credential() (string, error) {
	token, ok := c.lookup(c.tokenEnv)
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", &GenerationError{Kind: KindCredential, Err: fmt.Errorf("%s is not set", c.tokenEnv)}
	}
	if c.project == "" {
		return token, nil
	}
	return token + ":" + c.project, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
