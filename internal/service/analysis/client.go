// Package analysis sends a transcript to an Azure OpenAI chat deployment.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/observability/logging"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/observability/tracing"
)

// Fixed request parameters.
const (
	APIVersion  = "2024-02-15-preview"
	MaxTokens   = 1000
	Temperature = 0.3
)

const deploymentsPath = "/openai/deployments"

// Analysis outcomes recorded in metrics.
const (
	outcomeSuccess   = "success"
	outcomeHTTPError = "http_error"
	outcomeEmpty     = "empty"
	outcomeFailure   = "failure"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// chatResponse is the part of the response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Options holds the collaborators of a Client.
type Options struct {
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	Printer    *i18n.Printer
	Metrics    *metrics.Metrics
}

// Client calls the chat completions endpoint of one deployment.
type Client struct {
	openai  config.OpenAIConfig
	prompts config.PromptsConfig
	http    *http.Client
	printer *i18n.Printer
	metrics *metrics.Metrics
}

// NewClient creates a client for the OpenAI and prompt settings groups.
func NewClient(openai config.OpenAIConfig, prompts config.PromptsConfig, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   openai.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Printer == nil {
		opts.Printer = i18n.New("")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Client{
		openai:  openai,
		prompts: prompts,
		http:    opts.HTTPClient,
		printer: opts.Printer,
		metrics: opts.Metrics,
	}
}

// BaseEndpoint strips a deployment path from endpoint, or trailing slashes
// when there is none.
func BaseEndpoint(endpoint string) string {
	if i := strings.Index(endpoint, deploymentsPath); i >= 0 {
		return endpoint[:i]
	}
	return strings.TrimRight(endpoint, "/")
}

// RequestURL returns the chat completions URL for deployment.
func RequestURL(endpoint, deployment string) string {
	return fmt.Sprintf("%s%s/%s/chat/completions?api-version=%s",
		BaseEndpoint(endpoint), deploymentsPath, deployment, APIVersion)
}

// FormatTemplate replaces each {0} in tmpl with arg. Doubled braces produce
// a literal brace; any other brace sequence is an invalid template.
func FormatTemplate(tmpl, arg string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl) + len(arg))

	for i := 0; i < len(tmpl); i++ {
		switch c := tmpl[i]; c {
		case '{':
			if strings.HasPrefix(tmpl[i:], "{{") {
				b.WriteByte('{')
				i++
				continue
			}
			if strings.HasPrefix(tmpl[i:], "{0}") {
				b.WriteString(arg)
				i += 2
				continue
			}
			return "", fmt.Errorf("%w: unsupported placeholder at offset %d of user prompt template", config.ErrInvalidConfig, i)
		case '}':
			if strings.HasPrefix(tmpl[i:], "}}") {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: unmatched '}' at offset %d of user prompt template", config.ErrInvalidConfig, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// BuildRequest builds the request body for transcript.
func BuildRequest(prompts config.PromptsConfig, transcript string) (ChatRequest, error) {
	user, err := FormatTemplate(prompts.UserPromptTemplate, transcript)
	if err != nil {
		return ChatRequest{}, err
	}
	return ChatRequest{
		Messages: []Message{
			{Role: "system", Content: prompts.SystemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
	}, nil
}

// Analyze sends transcript for analysis and returns the text to write.
// Remote failures are returned as a localized message, never as an error;
// only invalid settings produce an error.
func (c *Client) Analyze(ctx context.Context, transcript string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanAnalyze,
		attribute.String("deployment", c.openai.DeploymentName),
	)
	defer span.End()

	if err := c.openai.Validate(); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	if err := c.prompts.Validate(); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	req, err := BuildRequest(c.prompts, transcript)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	start := time.Now()
	result, outcome := c.call(ctx, RequestURL(c.openai.Endpoint, c.openai.DeploymentName), req)
	c.metrics.RecordAnalysis(outcome, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))

	return result, nil
}

func (c *Client) call(ctx context.Context, url string, body ChatRequest) (string, string) {
	logger := logging.WithComponent("analysis")

	failed := func(err error) (string, string) {
		logger.Error().Err(err).Msg("Analysis request failed")
		return c.printer.Sprintf(i18n.MsgAnalysisFailed, err.Error()), outcomeFailure
	}

	data, err := json.Marshal(body)
	if err != nil {
		return failed(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return failed(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("api-key", c.openai.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return failed(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().Int("status", resp.StatusCode).Msg("Analysis request rejected")
		return c.printer.Sprintf(i18n.MsgAnalysisStatus, resp.Status, string(respBody)), outcomeHTTPError
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return failed(fmt.Errorf("failed to parse response: %w", err))
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		logger.Warn().Msg("Analysis response has no content")
		return c.printer.Sprintf(i18n.MsgAnalysisEmpty), outcomeEmpty
	}

	logger.Debug().Int("chars", len(*parsed.Choices[0].Message.Content)).Msg("Analysis received")
	return *parsed.Choices[0].Message.Content, outcomeSuccess
}
