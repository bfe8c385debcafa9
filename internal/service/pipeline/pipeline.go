// Package pipeline sequences transcription and analysis for one audio file
// and writes both output files next to it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"speech2text/internal/i18n"
	"speech2text/internal/models"
	"speech2text/internal/observability/logging"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/observability/tracing"
	"speech2text/internal/service/audio"
	"speech2text/internal/service/stt"
	"speech2text/internal/service/transcription"
)

// Transcriber produces the transcript of an audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcription.Result, error)
}

// Analyzer turns a transcript into the analysis text.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (string, error)
}

// Publisher receives completion events.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptCompleted) error
	PublishAnalysis(ctx context.Context, ev models.AnalysisCompleted) error
}

// Options holds the collaborators of a Pipeline.
type Options struct {
	Out       io.Writer
	Printer   *i18n.Printer
	Metrics   *metrics.Metrics
	Publisher Publisher
	// Deployment is reported in analysis events.
	Deployment string
}

// Result describes a finished run.
type Result struct {
	RunID          string
	Tier           stt.Mode
	TranscriptPath string
	AnalysisPath   string
	Transcript     string
	Analysis       string
}

// Pipeline runs both stages for one file at a time.
type Pipeline struct {
	transcriber Transcriber
	analyzer    Analyzer
	out         io.Writer
	printer     *i18n.Printer
	metrics     *metrics.Metrics
	publisher   Publisher
	deployment  string
}

// New creates a pipeline.
func New(t Transcriber, a Analyzer, opts Options) *Pipeline {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Printer == nil {
		opts.Printer = i18n.New("")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Pipeline{
		transcriber: t,
		analyzer:    a,
		out:         opts.Out,
		printer:     opts.Printer,
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		deployment:  opts.Deployment,
	}
}

// TranscriptPath replaces the extension of audioPath with ".txt".
// Both '/' and '\' are treated as separators.
func TranscriptPath(audioPath string) string {
	return trimExt(audioPath) + ".txt"
}

// AnalysisPath returns "<dir>/<base>_ai.txt" for audioPath.
func AnalysisPath(audioPath string) string {
	return trimExt(audioPath) + "_ai.txt"
}

func trimExt(path string) string {
	base := strings.LastIndexAny(path, `/\`) + 1
	if dot := strings.LastIndexByte(path[base:], '.'); dot >= 0 {
		return path[:base+dot]
	}
	return path
}

// Run transcribes audioPath, writes the transcript, analyzes it and writes
// the analysis. The transcript file is written before analysis starts, so it
// survives an analysis configuration error.
func (p *Pipeline) Run(ctx context.Context, audioPath string) (Result, error) {
	res := Result{
		RunID:          uuid.NewString(),
		TranscriptPath: TranscriptPath(audioPath),
		AnalysisPath:   AnalysisPath(audioPath),
	}
	logger := logging.WithRun(res.RunID, audioPath)

	ctx, span := tracing.StartSpan(ctx, tracing.SpanPipeline,
		attribute.String("runId", res.RunID),
	)
	defer span.End()

	start := time.Now()
	p.printer.Fprintln(p.out, i18n.MsgTranscribeStart)

	tr, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		p.fail(span, "transcription_failed", err)
		return res, err
	}
	res.Tier = tr.Tier
	res.Transcript = tr.Text

	if err := p.write(ctx, res.TranscriptPath, tr.Text, "transcript"); err != nil {
		p.fail(span, "write_failed", err)
		return res, err
	}
	p.printer.Fprintln(p.out, i18n.MsgTranscribeDone, res.TranscriptPath)
	logger.Info().
		Str("tier", tr.Tier.String()).
		Int("segments", len(tr.Segments)).
		Dur("elapsed", time.Since(start)).
		Msg("Transcript written")

	digest := p.digest(logger, audioPath)
	p.publishTranscript(ctx, logger, models.TranscriptCompleted{
		EventType:   models.EventTypeTranscriptCompleted,
		RunID:       res.RunID,
		Timestamp:   time.Now().UnixMilli(),
		AudioFile:   audioPath,
		AudioDigest: digest,
		OutputPath:  res.TranscriptPath,
		Tier:        tr.Tier.String(),
		Segments:    len(tr.Segments),
		Speakers:    tr.Speakers,
		Chars:       utf8.RuneCountInString(tr.Text),
	})

	p.printer.Fprintln(p.out, i18n.MsgAnalysisStart)

	analysis, err := p.analyzer.Analyze(ctx, tr.Text)
	if err != nil {
		p.fail(span, "analysis_failed", err)
		return res, err
	}
	res.Analysis = analysis

	if err := p.write(ctx, res.AnalysisPath, analysis, "analysis"); err != nil {
		p.fail(span, "write_failed", err)
		return res, err
	}
	p.printer.Fprintln(p.out, i18n.MsgAnalysisDone, res.AnalysisPath)
	logger.Info().Dur("elapsed", time.Since(start)).Msg("Analysis written")

	p.publishAnalysis(ctx, logger, models.AnalysisCompleted{
		EventType:   models.EventTypeAnalysisCompleted,
		RunID:       res.RunID,
		Timestamp:   time.Now().UnixMilli(),
		AudioFile:   audioPath,
		AudioDigest: digest,
		OutputPath:  res.AnalysisPath,
		Deployment:  p.deployment,
		Chars:       utf8.RuneCountInString(analysis),
	})

	p.metrics.RecordPipelineRun("success")
	return res, nil
}

func (p *Pipeline) fail(span trace.Span, outcome string, err error) {
	p.metrics.RecordPipelineRun(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	tracing.RecordError(span, err)
	logger := logging.WithComponent("pipeline")
	logger.Error().Err(err).Str("outcome", outcome).Msg("Pipeline run failed")
}

// write stores text as UTF-8 without a byte order mark.
func (p *Pipeline) write(ctx context.Context, path, text, kind string) error {
	_, span := tracing.StartSpan(ctx, tracing.SpanWriteArtifact,
		attribute.String("kind", kind),
		attribute.String("path", path),
	)
	defer span.End()

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		err = fmt.Errorf("failed to write %s file: %w", kind, err)
		tracing.RecordError(span, err)
		return err
	}
	p.metrics.RecordOutput(kind, len(text))
	return nil
}

func (p *Pipeline) digest(logger zerolog.Logger, audioPath string) string {
	if p.publisher == nil {
		return ""
	}
	d, err := audio.Fingerprint(audioPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fingerprint audio")
		return ""
	}
	return d
}

func (p *Pipeline) publishTranscript(ctx context.Context, logger zerolog.Logger, ev models.TranscriptCompleted) {
	if p.publisher == nil {
		return
	}
	ctx, span := tracing.StartSpan(ctx, tracing.SpanPublish, attribute.String("eventType", ev.EventType))
	defer span.End()
	if err := p.publisher.PublishTranscript(ctx, ev); err != nil {
		tracing.RecordError(span, err)
		logger.Warn().Err(err).Msg("Failed to publish transcript event")
	}
}

func (p *Pipeline) publishAnalysis(ctx context.Context, logger zerolog.Logger, ev models.AnalysisCompleted) {
	if p.publisher == nil {
		return
	}
	ctx, span := tracing.StartSpan(ctx, tracing.SpanPublish, attribute.String("eventType", ev.EventType))
	defer span.End()
	if err := p.publisher.PublishAnalysis(ctx, ev); err != nil {
		tracing.RecordError(span, err)
		logger.Warn().Err(err).Msg("Failed to publish analysis event")
	}
}
