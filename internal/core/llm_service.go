package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModelName = "gemini-1.5-flash-latest"
	defaultProviderTimeout = 30 * time.Second

	replyMaxOutputTokens = int32(120)
	replyTemperature     = float32(0.9)
)

var ErrUnusableReply = errors.New("provider returned an unusable reply")

// Provider generates one reply for userText under systemPrompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, systemPrompt, userText string) (string, error)
}

// ProviderError carries whatever the provider told us about a failed call.
type ProviderError struct {
	Provider string
	Status   int    // HTTP status, 0 when unknown
	Details  string // provider message, if any
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s provider error", e.Provider)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CleanReply trims the provider text and reports whether it can be sent as a reply.
// Anything shorter than two characters, a lone punctuation mark included, is rejected.
func CleanReply(text string) (string, bool) {
	text = strings.Trim(text, "\"' \n\r\t")
	if utf8.RuneCountInString(text) < 2 {
		return text, false
	}
	return text, true
}

// GeminiProvider calls Gemini with a key from the pool on every request.
type GeminiProvider struct {
	keys    *KeyPool
	model   string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiProvider(keys *KeyPool, model string, timeout time.Duration, log zerolog.Logger) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModelName
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &GeminiProvider{
		keys:    keys,
		model:   model,
		timeout: timeout,
		log:     log,
		clients: make(map[string]*genai.Client),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) client(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.clients[key] = c
	return c, nil
}

func (p *GeminiProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, c := range p.clients {
		if err := c.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing GenAI client")
		}
		delete(p.clients, key)
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	key, err := p.keys.Next()
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.client(ctx, key)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}

	model := client.GenerativeModel(p.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	maxTokens := replyMaxOutputTokens
	temp := replyTemperature
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(userText))
	if err != nil {
		perr := &ProviderError{Provider: p.Name(), Err: err}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			perr.Status = apiErr.Code
			perr.Details = apiErr.Message
		}
		return "", perr
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &ProviderError{Provider: p.Name(), Details: "empty response", Err: ErrUnusableReply}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return responseText.String(), nil
}
