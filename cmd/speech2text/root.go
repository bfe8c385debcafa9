package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"speech2text/internal/app"
	"speech2text/internal/config"
	"speech2text/internal/i18n"
	"speech2text/internal/service/session"
)

// localeEnv selects the console language before the settings are loaded.
const localeEnv = "SPEECH2TEXT_LOCALE"

const shutdownTimeout = 10 * time.Second

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "speech2text <audio-file>",
		Short:         "Transcribe an audio file and analyze the transcript with Azure OpenAI",
		Long:          `speech2text transcribes an audio file with speaker attribution, writes <name>.txt next to it, sends the transcript to an Azure OpenAI deployment and writes the answer to <name>_ai.txt.`,
		Args:          cobra.ArbitraryArgs,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := i18n.New(os.Getenv(localeEnv))

			if len(args) == 0 {
				printer.Fprintln(out, i18n.MsgUsage)
				printer.Fprintln(out, i18n.MsgUsageExample)
				return nil
			}

			// Only the first argument is used; the rest are ignored.
			audioPath := args[0]
			if info, err := os.Stat(audioPath); err != nil || info.IsDir() {
				printer.Fprintln(out, i18n.MsgFileNotFound, audioPath)
				return nil
			}

			if configPath == "" {
				configPath = config.ResolvePath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return process(cmd.Context(), cfg, audioPath, out)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "settings document (default appsettings.json or $"+config.PathEnv+")")
	return cmd
}

// process runs the pipeline. Pipeline failures are reported on out and are
// not returned.
func process(ctx context.Context, cfg *config.Configuration, audioPath string, out io.Writer) error {
	a := app.New(cfg)
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(sctx)
	}()

	p, err := a.Pipeline(out)
	if err == nil {
		_, err = p.Run(ctx, audioPath)
	}
	if err != nil {
		a.Printer.Fprintln(out, i18n.MsgErrorOccurred, localize(a.Printer, err))
	}
	return nil
}

// localize renders err for the console.
func localize(p *i18n.Printer, err error) string {
	var ce *session.CanceledError
	if errors.As(err, &ce) {
		return ce.Localize(p)
	}
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		return p.Sprintf(i18n.MsgInvalidSettings, p.GroupName(ve.Group))
	}
	return err.Error()
}
