// Package transcription turns an audio file into a transcript, degrading from
// speaker-attributed recognition to plain continuous recognition.
package transcription

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"

	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/observability/logging"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/observability/tracing"
	"speech2text/internal/service/session"
	"speech2text/internal/service/stt"
	"speech2text/internal/service/transcript"
)

// Result is a finished transcript.
type Result struct {
	Text string
	// Tier is the recognition mode that produced Text.
	Tier     stt.Mode
	Segments []transcript.Segment
	Speakers int
}

// Options holds the collaborators of an Engine.
type Options struct {
	Out     io.Writer
	Printer *i18n.Printer
	Metrics *metrics.Metrics
}

// Engine runs recognition sessions against a backend.
type Engine struct {
	settings config.SpeechConfig
	factory  stt.Factory
	out      io.Writer
	printer  *i18n.Printer
	metrics  *metrics.Metrics
}

// NewEngine creates an engine for the speech settings group.
func NewEngine(settings config.SpeechConfig, factory stt.Factory, opts Options) *Engine {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Printer == nil {
		opts.Printer = i18n.New("")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Engine{
		settings: settings,
		factory:  factory,
		out:      opts.Out,
		printer:  opts.Printer,
		metrics:  opts.Metrics,
	}
}

// Transcribe recognizes audioPath with speaker attribution. If that session
// fails for any reason, it retries once with continuous recognition; the
// retry's error is returned as is. Invalid speech settings fail immediately.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanTranscribe,
		attribute.String("provider", e.factory.Provider()),
	)
	defer span.End()

	if err := e.settings.Validate(); err != nil {
		tracing.RecordError(span, err)
		return Result{}, err
	}

	logger := logging.WithComponent("transcription")

	res, err := e.run(ctx, stt.ModeDiarized, audioPath)
	if err == nil {
		span.SetAttributes(attribute.String("tier", res.Tier.String()))
		return res, nil
	}

	e.printer.Fprintln(e.out, i18n.MsgDiarizedError, describe(err))
	e.printer.Fprintln(e.out, i18n.MsgRetryContinuous)
	e.metrics.RecordFallback()
	logger.Warn().Err(err).Msg("Diarized recognition failed, falling back to continuous recognition")

	res, err = e.run(ctx, stt.ModeContinuous, audioPath)
	if err != nil {
		tracing.RecordError(span, err)
		return Result{}, err
	}
	span.SetAttributes(attribute.String("tier", res.Tier.String()))
	return res, nil
}

func (e *Engine) run(ctx context.Context, mode stt.Mode, audioPath string) (Result, error) {
	b := transcript.NewBuilder(e.printer, e.out, mode == stt.ModeDiarized)
	s := session.New(e.factory, mode, b, session.Options{
		Out:     e.out,
		Printer: e.printer,
		Metrics: e.metrics,
	})
	if err := s.Run(ctx, audioPath); err != nil {
		return Result{}, err
	}
	return Result{
		Text:     b.String(),
		Tier:     mode,
		Segments: b.Segments(),
		Speakers: b.Speakers(),
	}, nil
}

// describe returns the backend's error details for cancellations and the
// error text otherwise.
func describe(err error) string {
	var ce *session.CanceledError
	if errors.As(err, &ce) && ce.Details != "" {
		return ce.Details
	}
	return err.Error()
}
