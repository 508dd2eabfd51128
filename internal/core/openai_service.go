package core

import (
	"context"
	"errors"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModelName = openai.GPT4oMini

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
type OpenAIProvider struct {
	keys    *KeyPool
	model   string
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIProvider creates a provider; an empty baseURL uses the OpenAI API.
func NewOpenAIProvider(keys *KeyPool, model, baseURL string, timeout time.Duration) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModelName
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &OpenAIProvider{
		keys:    keys,
		model:   model,
		baseURL: baseURL,
		timeout: timeout,
		clients: make(map[string]*openai.Client),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) client(key string) *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}
	config := openai.DefaultConfig(key)
	if p.baseURL != "" {
		config.BaseURL = p.baseURL
	}
	c := openai.NewClientWithConfig(config)
	p.clients[key] = c
	return c
}

func (p *OpenAIProvider) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	key, err := p.keys.Next()
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client(key).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		Temperature: replyTemperature,
		MaxTokens:   int(replyMaxOutputTokens),
	})
	if err != nil {
		perr := &ProviderError{Provider: p.Name(), Err: err}
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			perr.Status = apiErr.HTTPStatusCode
			perr.Details = apiErr.Message
		case errors.As(err, &reqErr):
			perr.Status = reqErr.HTTPStatusCode
		}
		return "", perr
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), Details: "no response choices", Err: ErrUnusableReply}
	}
	return resp.Choices[0].Message.Content, nil
}
