package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"speech2text/internal/i18n"
	"speech2text/internal/observability/logging"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/observability/tracing"
	"speech2text/internal/service/stt"
)

// Bounds how long Stop may take once the session is resolved.
const stopTimeout = 10 * time.Second

// ErrSessionCanceled is the sentinel behind every CanceledError.
var ErrSessionCanceled = errors.New("recognition canceled")

// CanceledError reports a session the backend canceled with an error.
type CanceledError struct {
	Mode    stt.Mode
	Code    string
	Details string
}

func (e *CanceledError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s recognition canceled: %s", e.Mode, e.Details)
	}
	return fmt.Sprintf("%s recognition canceled (%s): %s", e.Mode, e.Code, e.Details)
}

func (e *CanceledError) Unwrap() error { return ErrSessionCanceled }

// Localize renders the error the way the console reports recognition errors.
func (e *CanceledError) Localize(p *i18n.Printer) string {
	if e.Mode == stt.ModeDiarized {
		return p.Sprintf(i18n.MsgDiarizedError, e.Details)
	}
	return p.Sprintf(i18n.MsgContinuousError, e.Details)
}

// Options holds the collaborators of a Session.
type Options struct {
	// Out receives console progress lines. Defaults to io.Discard.
	Out     io.Writer
	Printer *i18n.Printer
	Metrics *metrics.Metrics
}

// Session is one recognition run in a single mode. A Session is used once.
type Session struct {
	factory stt.Factory
	mode    stt.Mode
	cb      stt.Callback

	out     io.Writer
	printer *i18n.Printer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	lifecycle *Lifecycle
}

// New creates a session dispatching results for mode to cb.
func New(factory stt.Factory, mode stt.Mode, cb stt.Callback, opts Options) *Session {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Printer == nil {
		opts.Printer = i18n.New("")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Session{
		factory:   factory,
		mode:      mode,
		cb:        cb,
		out:       opts.Out,
		printer:   opts.Printer,
		metrics:   opts.Metrics,
		logger:    logging.WithSession(mode.String(), factory.Provider()),
		lifecycle: NewLifecycle(),
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Run recognizes audioPath and blocks until the session is resolved. The
// adapter is stopped on every exit path. A non-nil error means the session
// failed; results dispatched before the failure stay with the callback.
func (s *Session) Run(ctx context.Context, audioPath string) error {
	tier := s.mode.String()
	ctx, span := tracing.StartSpan(ctx, tracing.SpanSession,
		attribute.String("tier", tier),
		attribute.String("provider", s.factory.Provider()),
	)
	defer span.End()

	if err := s.lifecycle.Begin(); err != nil {
		return err
	}
	start := time.Now()

	adapter, err := s.factory.NewAdapter(ctx, s.mode)
	if err != nil {
		s.lifecycle.Resolve(fmt.Errorf("failed to create %s adapter: %w", tier, err))
	} else {
		events, err := adapter.Start(ctx, audioPath)
		if err != nil {
			s.metrics.RecordSTTError(s.factory.Provider(), "start")
			s.lifecycle.Resolve(fmt.Errorf("failed to start %s recognition: %w", tier, err))
		} else {
			s.logger.Debug().Str("audioPath", audioPath).Msg("Recognition started")
			s.dispatch(ctx, events)
		}

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		if err := adapter.Stop(stopCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop recognizer")
		}
		cancel()
	}

	state := s.lifecycle.Finish()
	err = s.lifecycle.Err()

	s.metrics.RecordSessionEnd(tier, state == StateStopped, time.Since(start).Seconds())
	tracing.RecordError(span, err)

	s.logger.Info().
		Str("state", state.String()).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Recognition session ended")

	return err
}

// dispatch consumes events until the first terminal event resolves the session.
func (s *Session) dispatch(ctx context.Context, events <-chan stt.Event) {
	tier := s.mode.String()
	for {
		select {
		case <-ctx.Done():
			s.lifecycle.Resolve(fmt.Errorf("%w: %v", ErrSessionCanceled, ctx.Err()))
			return

		case ev, ok := <-events:
			if !ok {
				s.lifecycle.Resolve(nil)
				return
			}

			switch ev.Kind {
			case stt.EventPartial:
				s.metrics.RecordPartialDiscarded(tier)
				s.cb.OnPartial(ev.Result)

			case stt.EventFinal:
				s.metrics.RecordFinalSegment(tier)
				s.cb.OnFinal(ev.Result)

			case stt.EventNoMatch:
				s.metrics.RecordNoMatch(tier)
				s.cb.OnNoMatch()

			case stt.EventCanceled:
				s.onCanceled(ev)
				return

			case stt.EventSessionStopped:
				s.printer.Fprintln(s.out, s.stoppedMessage())
				s.lifecycle.Resolve(nil)
				return
			}
		}
	}
}

func (s *Session) onCanceled(ev stt.Event) {
	canceledMsg := i18n.MsgContinuousCancel
	if s.mode == stt.ModeDiarized {
		canceledMsg = i18n.MsgDiarizedCanceled
	}
	s.printer.Fprintln(s.out, canceledMsg, ev.Reason)

	if ev.Reason != stt.CancelError {
		s.lifecycle.Resolve(nil)
		return
	}

	s.printer.Fprintln(s.out, i18n.MsgErrorDetails, ev.ErrorDetails)
	s.metrics.RecordSTTError(s.factory.Provider(), ev.ErrorCode)
	s.lifecycle.Resolve(&CanceledError{
		Mode:    s.mode,
		Code:    ev.ErrorCode,
		Details: ev.ErrorDetails,
	})
}

func (s *Session) stoppedMessage() string {
	if s.mode == stt.ModeDiarized {
		return i18n.MsgDiarizedStopped
	}
	return i18n.MsgContinuousStop
}
