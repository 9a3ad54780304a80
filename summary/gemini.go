package summary

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-2.5-flash"

	defaultGeminiTimeout = 30 * time.Second
)

// GeminiClient generates text with the Gemini API.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client

	mu     sync.Mutex
	client *genai.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(base string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = base }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.http = hc }
}

// NewGeminiClient creates a client. An empty model selects
// DefaultGeminiModel. The SDK client is built on first use.
func NewGeminiClient(apiKey, model string, opts ...GeminiOption) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	c := &GeminiClient{
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: defaultGeminiTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      c.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.http,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c.client = client
	return client, nil
}

// Generate implements Generator.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}

	var config *genai.GenerateContentConfig
	if jsonOutput {
		config = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)

	logrus.WithFields(logrus.Fields{
		"function": "GeminiClient.Generate",
		"model":    c.model,
		"json":     jsonOutput,
		"duration": time.Since(start),
		"failed":   err != nil,
	}).Debug("Gemini call finished")

	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
