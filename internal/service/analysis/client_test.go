package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/observability/metrics"
)

var prompts = config.PromptsConfig{
	SystemPrompt:       "S",
	UserPromptTemplate: "Summarize: {0}",
}

func newTestClient(t *testing.T, handler http.HandlerFunc, m *metrics.Metrics) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	openai := config.OpenAIConfig{
		Endpoint:       srv.URL + "/",
		APIKey:         "secret",
		DeploymentName: "gpt-4o",
	}
	return NewClient(openai, prompts, Options{
		HTTPClient: srv.Client(),
		Printer:    i18n.New("ja"),
		Metrics:    m,
	})
}

func TestBaseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x.openai.azure.com/", "https://x.openai.azure.com"},
		{"https://x.openai.azure.com//", "https://x.openai.azure.com"},
		{"https://x.openai.azure.com", "https://x.openai.azure.com"},
		{"https://x.openai.azure.com/openai/deployments/gpt/chat/completions?api-version=1", "https://x.openai.azure.com"},
	}

	for _, tt := range tests {
		if got := BaseEndpoint(tt.in); got != tt.want {
			t.Errorf("BaseEndpoint(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRequestURL(t *testing.T) {
	got := RequestURL("https://x.openai.azure.com/", "gpt-4o")
	want := "https://x.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=2024-02-15-preview"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestFormatTemplate(t *testing.T) {
	tests := []struct {
		tmpl    string
		want    string
		wantErr bool
	}{
		{"Summarize: {0}", "Summarize: hello", false},
		{"{0}\n---\n{0}", "hello\n---\nhello", false},
		{"JSON {{\"text\": \"{0}\"}}", "JSON {\"text\": \"hello\"}", false},
		{"要約してください:\n{0}", "要約してください:\nhello", false},
		{"no slot", "no slot", false},
		{"{1}", "", true},
		{"{0:N}", "", true},
		{"{", "", true},
		{"oops }", "", true},
	}

	for _, tt := range tests {
		got, err := FormatTemplate(tt.tmpl, "hello")
		if tt.wantErr {
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("FormatTemplate(%q): expected ErrInvalidConfig, got %v", tt.tmpl, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatTemplate(%q): unexpected error: %v", tt.tmpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(prompts, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "S" {
		t.Errorf("unexpected system message: %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "user" || req.Messages[1].Content != "Summarize: hello" {
		t.Errorf("unexpected user message: %+v", req.Messages[1])
	}
	if req.MaxTokens != 1000 {
		t.Errorf("expected max_tokens 1000, got %d", req.MaxTokens)
	}
	if req.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", req.Temperature)
	}
}

func TestAnalyze_Success(t *testing.T) {
	var captured struct {
		path, query, key, contentType string
		body                          map[string]any
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.key = r.Header.Get("api-key")
		captured.contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &captured.body)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"要約です"}}]}`)
	}, metrics.New(prometheus.NewRegistry()))

	got, err := c.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "要約です" {
		t.Errorf("expected '要約です', got %q", got)
	}

	if captured.path != "/openai/deployments/gpt-4o/chat/completions" {
		t.Errorf("unexpected path %s", captured.path)
	}
	if captured.query != "api-version=2024-02-15-preview" {
		t.Errorf("unexpected query %s", captured.query)
	}
	if captured.key != "secret" {
		t.Errorf("expected api-key header 'secret', got %q", captured.key)
	}
	if captured.contentType != "application/json; charset=utf-8" {
		t.Errorf("unexpected content type %q", captured.contentType)
	}
	if captured.body["max_tokens"] != float64(1000) {
		t.Errorf("expected max_tokens 1000, got %v", captured.body["max_tokens"])
	}
	if captured.body["temperature"] != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", captured.body["temperature"])
	}
	messages := captured.body["messages"].([]any)
	user := messages[1].(map[string]any)
	if user["content"] != "Summarize: hello" {
		t.Errorf("expected user content 'Summarize: hello', got %v", user["content"])
	}
}

func TestAnalyze_HTTPErrorReturnsMessage(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"rate limited"}`)
	}, m)

	got, err := c.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(got, "AI分析中にエラーが発生しました: ") {
		t.Errorf("expected localized error prefix, got %q", got)
	}
	if !strings.Contains(got, "429") {
		t.Errorf("expected status code in %q", got)
	}
	if !strings.Contains(got, `{"error":"rate limited"}`) {
		t.Errorf("expected raw body in %q", got)
	}
	if v := testutil.ToFloat64(m.AnalysisTotal.WithLabelValues("http_error")); v != 1 {
		t.Errorf("expected 1 http_error outcome, got %v", v)
	}
}

func TestAnalyze_MissingContent(t *testing.T) {
	bodies := []string{
		`{"choices":[{"message":{"role":"assistant","content":null}}]}`,
		`{"choices":[{"message":{"role":"assistant"}}]}`,
		`{"choices":[]}`,
		`{}`,
	}

	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}, metrics.New(prometheus.NewRegistry()))

		got, err := c.Analyze(context.Background(), "hello")
		if err != nil {
			t.Fatalf("body %s: expected no error, got %v", body, err)
		}
		if got != "分析結果を取得できませんでした。" {
			t.Errorf("body %s: expected fixed sentence, got %q", body, got)
		}
	}
}

func TestAnalyze_MalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>gateway</html>`)
	}, metrics.New(prometheus.NewRegistry()))

	got, err := c.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(got, "AI分析中にエラーが発生しました: failed to parse response") {
		t.Errorf("unexpected result %q", got)
	}
}

func TestAnalyze_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(config.OpenAIConfig{Endpoint: url, APIKey: "k", DeploymentName: "d"}, prompts, Options{
		Printer: i18n.New("en"),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})

	got, err := c.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(got, "An error occurred during AI analysis: failed to send request") {
		t.Errorf("unexpected result %q", got)
	}
}

func TestAnalyze_InvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		openai  config.OpenAIConfig
		prompts config.PromptsConfig
		group   string
	}{
		{
			name:    "missing deployment",
			openai:  config.OpenAIConfig{Endpoint: "https://x", APIKey: "k"},
			prompts: prompts,
			group:   "openai",
		},
		{
			name:    "missing system prompt",
			openai:  config.OpenAIConfig{Endpoint: "https://x", APIKey: "k", DeploymentName: "d"},
			prompts: config.PromptsConfig{UserPromptTemplate: "{0}"},
			group:   "prompts",
		},
		{
			name:    "template without slot",
			openai:  config.OpenAIConfig{Endpoint: "https://x", APIKey: "k", DeploymentName: "d"},
			prompts: config.PromptsConfig{SystemPrompt: "S", UserPromptTemplate: "Summarize {1}"},
			group:   "prompts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.openai, tt.prompts, Options{Metrics: metrics.New(prometheus.NewRegistry())})

			_, err := c.Analyze(context.Background(), "hello")
			var verr *config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Group != tt.group {
				t.Errorf("expected group %s, got %s", tt.group, verr.Group)
			}
		})
	}
}
