package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logiclint/logiclint/internal/config"
	"github.com/logiclint/logiclint/internal/llm"
	"github.com/logiclint/logiclint/internal/prompt"
	"github.com/logiclint/logiclint/internal/report"
	"github.com/logiclint/logiclint/internal/runner"
)

// resultError carries a non-zero document result code through cobra's error
// return without printing anything further: the runner already wrote the
// failure to stderr.
type resultError struct{ code int }

func (e *resultError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func main() {
	root := &cobra.Command{
		Use:           "logiclint",
		Short:         "Lint a manuscript's internal logical consistency via an LLM backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCheckCmd())

	if err := root.Execute(); err != nil {
		var res *resultError
		if errors.As(err, &res) {
			os.Exit(res.code)
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func newCheckCmd() *cobra.Command {
	var (
		configPath string
		model      string
		backend    string
		recursive  bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "check [target]",
		Short: "Check one Markdown file, or a directory with --recursive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck // stderr sync failure is unactionable

			workRoot, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}

			cfg, err := config.Load(workRoot, configPath)
			if err != nil {
				return err
			}

			backendName := cfg.BackendName()
			if backend != "" {
				backendName = strings.ToLower(backend)
			}
			bcfg := cfg.BackendConfig(backendName)
			if bcfg == nil {
				return fmt.Errorf("config: %s section is required", backendName)
			}
			if model == "" {
				model = bcfg.Model
			}

			apiKey, err := cfg.ResolveKey(workRoot, backendName)
			if err != nil {
				return err
			}
			client, err := llm.New(backendName, apiKey, bcfg.BaseURL, log)
			if err != nil {
				return err
			}

			summary, err := prompt.SchemaSummary()
			if err != nil {
				return err
			}

			target := normalizeTarget(args[0])
			if !filepath.IsAbs(target) {
				target = filepath.Join(workRoot, target)
			}

			r := &runner.Runner{
				Client:               client,
				Model:                model,
				WorkRoot:             workRoot,
				OutDir:               filepath.Join(workRoot, cfg.Output.Dir),
				Taxonomy:             report.NewTaxonomy(cfg.Taxonomy),
				Rubric:               prompt.Rubric(),
				Schema:               summary,
				MaxRetries:           cfg.MaxRetries(),
				SleepBetweenRetries:  cfg.SleepBetweenRetries(),
				SleepBetweenRequests: cfg.SleepBetweenRequests(),
				RunID:                uuid.NewString(),
				Stdout:               cmd.OutOrStdout(),
				Stderr:               cmd.ErrOrStderr(),
				Log:                  log,
			}

			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("target not found: %s", args[0])
			}

			var rc int
			switch {
			case recursive:
				if !info.IsDir() {
					return fmt.Errorf("--recursive requires a directory target")
				}
				rc = r.RunDir(cmd.Context(), target)
			case info.IsDir():
				return fmt.Errorf("%s is a directory (use --recursive)", args[0])
			default:
				rc = r.RunFile(cmd.Context(), target)
			}
			if rc != 0 {
				return &resultError{code: rc}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default: "+config.DefaultPath+" under the working directory)")
	cmd.Flags().StringVar(&model, "model", "", "model id (default: the configured backend's model)")
	cmd.Flags().StringVar(&backend, "backend", "", "backend override: gemini, openai, or anthropic")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "process every .md under the target directory, in order")
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose operational logging")

	return cmd
}

// newLogger builds the operational logger on stderr. Contract output (report
// paths, validation errors) is written by the runner directly and does not
// go through here.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// normalizeTarget cleans up a user-supplied path: surrounding quotes,
// backslash separators, a leading "./".
func normalizeTarget(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(s, "./")
	return filepath.FromSlash(s)
}
