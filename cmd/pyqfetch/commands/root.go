package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"pyqfetch/internal/components/chrono"
	"pyqfetch/internal/components/telemetry"
	"pyqfetch/internal/config"
	"pyqfetch/internal/exams"
	"pyqfetch/internal/pipeline"
	"pyqfetch/internal/scrapers/testbook"
	"pyqfetch/lib/restyutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	dumpHttp   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "pyqfetch",
	Short:        "pyqfetch downloads previous year papers from testbook and cleans them into plain json.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			telemetry.InitSlog(slog.LevelDebug)
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "The config file to read, a <name>.local.<ext> next to it overrides it.")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug output, including every http request.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every http exchange to a file in this directory.")
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func resolveSession(name string) (exams.Session, error) {
	registry := exams.NewRegistry(cfg.Exams)
	target, err := registry.Resolve(name)
	if err != nil {
		return exams.Session{}, err
	}
	if target.Name != name {
		slog.Info("resolved exam", "query", name, "exam", target.Name)
	}
	return exams.NewSession(target, cfg.OutputDir), nil
}

func newClient() (*testbook.Client, error) {
	opts := testbook.Options{
		ListingBaseUrl:    cfg.ListingBaseUrl,
		PaperBaseUrl:      cfg.PaperBaseUrl,
		AuthCode:          cfg.AuthCode,
		Language:          cfg.Language,
		ClientTag:         cfg.ClientTag,
		UserAgent:         cfg.UserAgent,
		ListingLimit:      cfg.ListingLimit,
		Timeout:           cfg.TimeoutDuration(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Throttle:          cfg.ThrottleDuration(),
		Retry: testbook.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.BaseDelay(),
		},
		CloudflareBypass: cfg.CloudflareBypass,
	}
	if dumpHttp != "" {
		out, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			return nil, fmt.Errorf("prepare http dump: %w", err)
		}
		opts.Dump = out
	}
	return testbook.NewClient(opts, chrono.NewStandardImpl(), telemetry.SlogAPI{}), nil
}

func newPipeline(examName string) (*pipeline.Pipeline, exams.Session, error) {
	session, err := resolveSession(examName)
	if err != nil {
		return nil, exams.Session{}, err
	}
	client, err := newClient()
	if err != nil {
		return nil, exams.Session{}, err
	}
	p := pipeline.New(
		session,
		client,
		chrono.NewStandardImpl(),
		telemetry.SlogAPI{},
		pipeline.Options{Throttle: cfg.ThrottleDuration()},
	)
	return p, session, nil
}
