package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speech2text/internal/config"
	"speech2text/internal/events"
	"speech2text/internal/i18n"
	"speech2text/internal/observability/logging"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/observability/tracing"
	"speech2text/internal/service/analysis"
	"speech2text/internal/service/pipeline"
	"speech2text/internal/service/stt"
	"speech2text/internal/service/stt/google"
	"speech2text/internal/service/stt/mock"
	"speech2text/internal/service/transcription"
)

// Version is stamped at build time.
var Version = "dev"

// Application holds process-wide state for one CLI invocation.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Printer     *i18n.Printer
	Metrics     *metrics.Metrics
	Publisher   *events.Publisher

	shutdownTracer func(context.Context) error
}

// New constructs an Application from the loaded configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg:     cfg,
		Printer: i18n.New(cfg.Locale),
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicAnalysis:   cfg.Kafka.TopicAnalysis,
		Principal:       cfg.Kafka.Principal,
		Metrics:         a.Metrics,
	})

	a.Logger.Debug().
		Str("sttProvider", cfg.Speech.Provider).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Application created")
	return a
}

// setupLogger configures zerolog. ZEROLOG_LOG_LEVEL overrides the configured level.
func (a *Application) setupLogger() {
	lc := logging.Config{
		Level:      a.Cfg.Logging.Level,
		Format:     a.Cfg.Logging.Format,
		TimeFormat: a.Cfg.Logging.TimeFormat,
	}
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		lc.Level = strings.ToLower(envLevel)
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application")
}

// Start installs the tracer provider.
func (a *Application) Start(ctx context.Context) error {
	shutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "speech2text",
		ServiceVersion: Version,
		Endpoint:       a.Cfg.Tracing.Endpoint,
		Insecure:       a.Cfg.Tracing.Insecure,
		SampleRate:     a.Cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	a.shutdownTracer = shutdown

	a.StartupTime = time.Now().UTC()
	a.Logger.Debug().
		Time("startupTime", a.StartupTime).
		Str("version", Version).
		Msg("speech2text starting")
	return nil
}

// Factory returns the recognition backend named by speech.provider.
func (a *Application) Factory() (stt.Factory, error) {
	switch a.Cfg.Speech.Provider {
	case "", google.ProviderName:
		return google.NewFactory(google.ConfigFromSettings(a.Cfg.Speech)), nil
	case mock.ProviderName:
		return mock.NewFactory(), nil
	default:
		return nil, &config.ValidationError{Group: "speech", Fields: []string{"speech.provider"}}
	}
}

// Pipeline builds the two-stage pipeline writing progress to out.
func (a *Application) Pipeline(out io.Writer) (*pipeline.Pipeline, error) {
	factory, err := a.Factory()
	if err != nil {
		return nil, err
	}

	engine := transcription.NewEngine(a.Cfg.Speech, factory, transcription.Options{
		Out:     out,
		Printer: a.Printer,
		Metrics: a.Metrics,
	})
	client := analysis.NewClient(a.Cfg.OpenAI, a.Cfg.Prompts, analysis.Options{
		Printer: a.Printer,
		Metrics: a.Metrics,
	})

	return pipeline.New(engine, client, pipeline.Options{
		Out:        out,
		Printer:    a.Printer,
		Metrics:    a.Metrics,
		Publisher:  a.Publisher,
		Deployment: a.Cfg.OpenAI.DeploymentName,
	}), nil
}

// Shutdown flushes spans, writes the metrics textfile and closes the
// publisher. Every step runs even if an earlier one fails.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error

	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Metrics.WriteTextfile(a.Cfg.Metrics.TextfilePath); err != nil {
		errs = append(errs, err)
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown completed with errors")
	} else if !a.StartupTime.IsZero() {
		a.Logger.Debug().Dur("uptime", time.Since(a.StartupTime)).Msg("speech2text shut down")
	}
	return err
}
