package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
	"github.com/helpmetest/cli/pkg/config"
	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/storage"
	"github.com/helpmetest/cli/pkg/terminal"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	token      string
	apiURL     string
	verbose    bool

	cfg     *config.Config
	logger  *logging.Logger
	logFile io.Closer
	out     *terminal.Writer
	stdout  io.Writer
	stderr  io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		out:    terminal.NewWithOutput(stdout),
		logger: logging.Discard(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "helpmetest",
		Short:         "helpmetest: browser tests, health checks and an MCP server for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
	cmd.SetVersionTemplate("helpmetest {{.Version}}\n")
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (defaults to ~/.helpmetest/config.yaml and ./.helpmetest/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.token, "token", "", "API token (overrides HELPMETEST_API_TOKEN)")
	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "API base URL (overrides HELPMETEST_API_URL)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging to stderr or the configured log file")

	cmd.AddCommand(newMCPCmd(a))
	cmd.AddCommand(newHealthCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newTestCmd(a))
	cmd.AddCommand(newDeploymentsCmd(a))
	cmd.AddCommand(newInteractiveCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// load resolves configuration and the logger. Flags win over files and
// environment.
func (a *app) load() error {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(a.configPath) != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return hmterrors.Wrap(err, hmterrors.ErrCodeConfigLoad, "failed to load configuration").
			WithRemediation("Check the files listed by `helpmetest config path`.")
	}

	if v := strings.TrimSpace(a.token); v != "" {
		cfg.API.Token = v
	}
	if v := strings.TrimSpace(a.apiURL); v != "" {
		cfg.API.URL = v
	}
	if a.verbose {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return hmterrors.Wrap(err, hmterrors.ErrCodeConfigInvalid, "invalid configuration")
	}
	a.cfg = cfg

	opts := logging.Options{Level: logging.ParseLevel(cfg.Logging.Level), Output: a.stderr}
	if cfg.Logging.File != "" {
		f, err := logging.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return hmterrors.Wrap(err, hmterrors.ErrCodeConfigInvalid, "cannot open log file").
				WithContext("path", cfg.Logging.File)
		}
		a.logFile = f
		opts.Output = f
	}
	a.logger = logging.NewLogger("cli", opts)
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// client builds the API client. Every command except config and version
// needs a token.
func (a *app) client() (*api.Client, error) {
	if !a.cfg.HasToken() {
		return nil, hmterrors.New(hmterrors.ErrCodeConfigInvalid, "no API token configured").
			WithUserMessage("No helpmetest API token is configured.").
			WithRemediation(
				"Set HELPMETEST_API_TOKEN, pass --token, or add api.token to ~/.helpmetest/config.yaml.",
				"Create a token in the helpmetest dashboard under Settings.",
			)
	}
	return api.New(api.Options{
		BaseURL:     a.cfg.API.URL,
		Token:       a.cfg.API.Token,
		Timeout:     a.cfg.API.Timeout,
		RateLimit:   a.cfg.API.RateLimit,
		Burst:       a.cfg.API.Burst,
		InsecureTLS: a.cfg.API.InsecureTLS,
		Version:     version,
		Logger:      a.logger.WithComponent("api"),
	})
}

// openHistory opens the local history database, or returns nil when history
// is disabled.
func (a *app) openHistory() (*storage.Store, error) {
	if !a.cfg.History.Enabled || strings.TrimSpace(a.cfg.History.Path) == "" {
		return nil, nil
	}
	return storage.New(a.cfg.History.Path)
}

func usageError(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return hmterrors.New(hmterrors.ErrCodeInvalidInput, msg).WithUserMessage(msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && terminal.IsTerminal(f)
}
