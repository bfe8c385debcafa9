package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/service/session"
	"speech2text/internal/service/stt"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(localeEnv, "ja")
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_NoArgsPrintsUsage(t *testing.T) {
	out, err := execute(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "使用方法: speech2text <音声ファイルパス>") {
		t.Errorf("expected usage line, got %q", out)
	}
	if !strings.Contains(out, "例: ") {
		t.Errorf("expected example line, got %q", out)
	}
}

func TestRoot_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wav")
	out, err := execute(t, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "エラー: ファイルが見つかりません: "+path {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRoot_ExtraArgsAreIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wav")
	out, err := execute(t, path, "extra.wav", "--", "more")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "エラー: ファイルが見つかりません: "+path {
		t.Errorf("expected only the first argument to be used, got %q", out)
	}
}

func TestRoot_MissingConfigIsFatal(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.wav")
	os.WriteFile(audio, []byte("RIFF"), 0o644)

	_, err := execute(t, "--config", filepath.Join(dir, "appsettings.json"), audio)
	if !errors.Is(err, config.ErrConfigFile) {
		t.Errorf("expected ErrConfigFile, got %v", err)
	}
}

func TestRoot_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"要約"}}]}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	audio := filepath.Join(dir, "meeting.wav")
	os.WriteFile(audio, []byte("RIFF"), 0o644)

	settings := fmt.Sprintf(`{
  "speech": {"subscriptionKey": "k", "region": "japaneast", "provider": "mock"},
  "openai": {"endpoint": %q, "apiKey": "k", "deploymentName": "gpt-4o"},
  "prompts": {"systemPrompt": "S", "userPromptTemplate": "{0}"},
  "logging": {"level": "error"}
}`, srv.URL)
	cfgPath := filepath.Join(dir, "appsettings.json")
	os.WriteFile(cfgPath, []byte(settings), 0o644)

	out, err := execute(t, "--config", cfgPath, audio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "AI分析完了: "+filepath.Join(dir, "meeting_ai.txt")) {
		t.Errorf("expected completion line, got %q", out)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "meeting_ai.txt")); string(data) != "要約" {
		t.Errorf("expected analysis file, got %q", data)
	}
}

func TestRoot_PipelineErrorIsPrinted(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "meeting.wav")
	os.WriteFile(audio, []byte("RIFF"), 0o644)

	cfgPath := filepath.Join(dir, "appsettings.json")
	os.WriteFile(cfgPath, []byte(`{"speech": {"provider": "mock"}, "logging": {"level": "error"}}`), 0o644)

	out, err := execute(t, "--config", cfgPath, audio)
	if err != nil {
		t.Fatalf("expected pipeline errors to be reported on the console, got %v", err)
	}
	if !strings.Contains(out, "エラーが発生しました: 音声認識サービスの設定が不正です。") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "meeting.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no transcript file, got %v", err)
	}
}

func TestLocalize(t *testing.T) {
	p := i18n.New("ja")
	tests := []struct {
		err  error
		want string
	}{
		{&session.CanceledError{Mode: stt.ModeContinuous, Details: "bad key"}, "音声認識エラー: bad key"},
		{fmt.Errorf("wrap: %w", &config.ValidationError{Group: "openai"}), "Azure OpenAIの設定が不正です。appsettings.jsonを確認してください。"},
		{errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		if got := localize(p, tt.err); got != tt.want {
			t.Errorf("localize(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
