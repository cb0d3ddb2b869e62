package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaihaan/spendmatch/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatCompletionRequest is the subset of the chat-completions API we use.
type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Message message `json:"message"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatClient issues chat-completion requests. Split out as an interface so
// provider tests can stub the API.
type chatClient interface {
	createChatCompletion(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error)
}

// httpChatClient is the real API client.
type httpChatClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newHTTPChatClient(apiKey string) *httpChatClient {
	return &httpChatClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *httpChatClient) createChatCompletion(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &providers.Error{Kind: providers.KindTimeout, Provider: ProviderName, Err: err}
		}
		return nil, &providers.Error{Kind: providers.KindUnknown, Provider: ProviderName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providers.Error{Kind: providers.KindUnknown, Provider: ProviderName, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(respBody, resp.StatusCode)
		return nil, providers.ClassifyHTTPStatus(ProviderName, resp.StatusCode, resp.Header, apiErr)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &out, nil
}

// parseAPIError extracts the OpenAI error envelope when present.
func parseAPIError(body []byte, status int) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("API error: %s (type: %s, code: %s)",
			envelope.Error.Message, envelope.Error.Type, envelope.Error.Code)
	}
	return fmt.Errorf("API returned status %d: %s", status, string(body))
}
