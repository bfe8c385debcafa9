package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/models"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/service/analysis"
	"speech2text/internal/service/audio"
	"speech2text/internal/service/stt"
	"speech2text/internal/service/stt/mock"
	"speech2text/internal/service/transcription"
)

type recordingPublisher struct {
	mu          sync.Mutex
	transcripts []models.TranscriptCompleted
	analyses    []models.AnalysisCompleted
	err         error
}

func (r *recordingPublisher) PublishTranscript(ctx context.Context, ev models.TranscriptCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, ev)
	return r.err
}

func (r *recordingPublisher) PublishAnalysis(ctx context.Context, ev models.AnalysisCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, ev)
	return r.err
}

type fixture struct {
	pipeline  *Pipeline
	out       *bytes.Buffer
	metrics   *metrics.Metrics
	publisher *recordingPublisher
	received  *string
}

func newFixture(t *testing.T, factory stt.Factory, handler http.HandlerFunc, prompts config.PromptsConfig) *fixture {
	t.Helper()

	var received string
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			received = string(data)
			io.WriteString(w, `{"choices":[{"message":{"content":"会議の要約"}}]}`)
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	out := &bytes.Buffer{}
	printer := i18n.New("ja")
	m := metrics.New(prometheus.NewRegistry())
	pub := &recordingPublisher{}

	speech := config.SpeechConfig{SubscriptionKey: "k", Region: "japaneast", Language: "ja-JP", Provider: "mock"}
	engine := transcription.NewEngine(speech, factory, transcription.Options{Out: out, Printer: printer, Metrics: m})
	client := analysis.NewClient(
		config.OpenAIConfig{Endpoint: srv.URL, APIKey: "k", DeploymentName: "gpt-4o"},
		prompts,
		analysis.Options{HTTPClient: srv.Client(), Printer: printer, Metrics: m},
	)

	return &fixture{
		pipeline: New(engine, client, Options{
			Out:        out,
			Printer:    printer,
			Metrics:    m,
			Publisher:  pub,
			Deployment: "gpt-4o",
		}),
		out:       out,
		metrics:   m,
		publisher: pub,
		received:  &received,
	}
}

var validPrompts = config.PromptsConfig{SystemPrompt: "要約してください", UserPromptTemplate: "{0}"}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("failed to write audio: %v", err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestOutputPaths(t *testing.T) {
	tests := []struct {
		audio      string
		transcript string
		analysis   string
	}{
		{"/data/meeting.wav", "/data/meeting.txt", "/data/meeting_ai.txt"},
		{`C:\a\b.wav`, `C:\a\b.txt`, `C:\a\b_ai.txt`},
		{"meeting.mp3", "meeting.txt", "meeting_ai.txt"},
		{"/data/v1.2/meeting", "/data/v1.2/meeting.txt", "/data/v1.2/meeting_ai.txt"},
		{"/data/archive.tar.wav", "/data/archive.tar.txt", "/data/archive.tar_ai.txt"},
		{"/data/.wav", "/data/.txt", "/data/_ai.txt"},
	}

	for _, tt := range tests {
		if got := TranscriptPath(tt.audio); got != tt.transcript {
			t.Errorf("TranscriptPath(%q) = %s, want %s", tt.audio, got, tt.transcript)
		}
		if got := AnalysisPath(tt.audio); got != tt.analysis {
			t.Errorf("AnalysisPath(%q) = %s, want %s", tt.audio, got, tt.analysis)
		}
	}
}

func TestRun_WritesBothFiles(t *testing.T) {
	f := newFixture(t, mock.NewFactory(), nil, validPrompts)
	path := writeAudio(t)

	res, err := f.pipeline.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transcript := readFile(t, res.TranscriptPath)
	if !strings.HasPrefix(transcript, "[00:00] 話者1: 本日は") {
		t.Errorf("unexpected transcript file:\n%s", transcript)
	}
	if transcript != res.Transcript {
		t.Error("expected transcript file to match result")
	}
	if got := readFile(t, res.AnalysisPath); got != "会議の要約" {
		t.Errorf("expected analysis file '会議の要約', got %q", got)
	}
	if !strings.Contains(*f.received, "[00:05] 話者2: よろしくお願いします。") {
		t.Errorf("expected transcript in request body, got %s", *f.received)
	}

	console := f.out.String()
	order := []string{
		"音声ファイルの文字起こしを開始しています...",
		"文字起こし完了: " + res.TranscriptPath,
		"AI分析を開始しています...",
		"AI分析完了: " + res.AnalysisPath,
	}
	last := -1
	for _, line := range order {
		i := strings.Index(console, line)
		if i < 0 {
			t.Fatalf("expected %q on console, got:\n%s", line, console)
		}
		if i < last {
			t.Errorf("expected %q after previous progress line", line)
		}
		last = i
	}

	if v := testutil.ToFloat64(f.metrics.PipelineRuns.WithLabelValues("success")); v != 1 {
		t.Errorf("expected 1 successful run, got %v", v)
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	f := newFixture(t, mock.NewFactory(), nil, validPrompts)
	path := writeAudio(t)

	res, err := f.pipeline.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	digest, _ := audio.Fingerprint(path)

	if len(f.publisher.transcripts) != 1 || len(f.publisher.analyses) != 1 {
		t.Fatalf("expected one event of each kind, got %d and %d", len(f.publisher.transcripts), len(f.publisher.analyses))
	}
	tr := f.publisher.transcripts[0]
	if tr.EventType != models.EventTypeTranscriptCompleted {
		t.Errorf("unexpected event type %s", tr.EventType)
	}
	if tr.RunID != res.RunID || tr.RunID == "" {
		t.Errorf("expected run id %s, got %s", res.RunID, tr.RunID)
	}
	if tr.AudioDigest != digest {
		t.Errorf("expected digest %s, got %s", digest, tr.AudioDigest)
	}
	if tr.Tier != "diarized" || tr.Segments != 3 || tr.Speakers != 2 {
		t.Errorf("unexpected transcript event %+v", tr)
	}

	an := f.publisher.analyses[0]
	if an.RunID != res.RunID || an.Deployment != "gpt-4o" || an.OutputPath != res.AnalysisPath {
		t.Errorf("unexpected analysis event %+v", an)
	}
	if an.Chars != 5 {
		t.Errorf("expected 5 characters, got %d", an.Chars)
	}
}

func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, mock.NewFactory(), nil, validPrompts)
	f.publisher.err = errors.New("broker down")

	res, err := f.pipeline.Run(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	if _, err := os.Stat(res.AnalysisPath); err != nil {
		t.Errorf("expected analysis file, got %v", err)
	}
}

func TestRun_AnalysisHTTPErrorIsWritten(t *testing.T) {
	f := newFixture(t, mock.NewFactory(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "denied")
	}, validPrompts)

	res, err := f.pipeline.Run(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}
	got := readFile(t, res.AnalysisPath)
	if !strings.HasPrefix(got, "AI分析中にエラーが発生しました: 401") || !strings.HasSuffix(got, " - denied") {
		t.Errorf("unexpected analysis file %q", got)
	}
}

func TestRun_InvalidPromptsKeepTranscript(t *testing.T) {
	f := newFixture(t, mock.NewFactory(), nil, config.PromptsConfig{SystemPrompt: "S"})
	path := writeAudio(t)

	_, err := f.pipeline.Run(context.Background(), path)
	var verr *config.ValidationError
	if !errors.As(err, &verr) || verr.Group != "prompts" {
		t.Fatalf("expected prompts ValidationError, got %v", err)
	}

	if _, err := os.Stat(TranscriptPath(path)); err != nil {
		t.Errorf("expected transcript file to exist, got %v", err)
	}
	if _, err := os.Stat(AnalysisPath(path)); !os.IsNotExist(err) {
		t.Errorf("expected no analysis file, got %v", err)
	}
	if len(f.publisher.analyses) != 0 {
		t.Errorf("expected no analysis event, got %d", len(f.publisher.analyses))
	}
	if v := testutil.ToFloat64(f.metrics.PipelineRuns.WithLabelValues("analysis_failed")); v != 1 {
		t.Errorf("expected 1 analysis_failed run, got %v", v)
	}
}

func TestRun_TranscriptionFailureWritesNothing(t *testing.T) {
	factory := mock.NewFactory().
		CancelWithError(stt.ModeDiarized, "Unavailable", "down").
		CancelWithError(stt.ModeContinuous, "Unauthenticated", "bad key")
	f := newFixture(t, factory, nil, validPrompts)
	path := writeAudio(t)

	if _, err := f.pipeline.Run(context.Background(), path); err == nil {
		t.Fatal("expected error")
	}

	for _, p := range []string{TranscriptPath(path), AnalysisPath(path)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s not to exist, got %v", p, err)
		}
	}
	if strings.Contains(f.out.String(), "AI分析を開始しています...") {
		t.Error("expected analysis not to start")
	}
	if len(f.publisher.transcripts) != 0 {
		t.Errorf("expected no transcript event, got %d", len(f.publisher.transcripts))
	}
}

func TestRun_FallbackTierIsReported(t *testing.T) {
	factory := mock.NewFactory().CancelWithError(stt.ModeDiarized, "ResourceExhausted", "quota")
	f := newFixture(t, factory, nil, validPrompts)

	res, err := f.pipeline.Run(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tier != stt.ModeContinuous {
		t.Errorf("expected continuous tier, got %v", res.Tier)
	}
	if strings.Contains(readFile(t, res.TranscriptPath), "話者") {
		t.Error("expected no speaker labels after fallback")
	}
	if f.publisher.transcripts[0].Tier != "continuous" {
		t.Errorf("expected continuous tier in event, got %s", f.publisher.transcripts[0].Tier)
	}
}

func TestRun_EmptyTranscriptWritesFallbackSentence(t *testing.T) {
	factory := mock.NewFactory().SetScript(stt.ModeDiarized, mock.Script{Events: []stt.Event{
		mock.NoMatch(),
		mock.Stopped(),
	}})
	f := newFixture(t, factory, nil, validPrompts)

	res, err := f.pipeline.Run(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := readFile(t, res.TranscriptPath); got != "音声を認識できませんでした。" {
		t.Errorf("expected fallback sentence in transcript file, got %q", got)
	}
	if !strings.Contains(*f.received, "音声を認識できませんでした。") {
		t.Errorf("expected fallback sentence in request body, got %s", *f.received)
	}
	if got := readFile(t, res.AnalysisPath); got != "会議の要約" {
		t.Errorf("expected analysis file '会議の要約', got %q", got)
	}
}
