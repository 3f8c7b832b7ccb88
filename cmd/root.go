package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fediverse-devnet/feditest-sub000/internal/config"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
	"github.com/fediverse-devnet/feditest-sub000/internal/run"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeTestFailures indicates the run completed but some tests failed or errored.
	ExitCodeTestFailures = 2
	// ExitCodeFatal indicates the run hit a condition no transcript can represent.
	ExitCodeFatal = 3
)

// TestFailuresError is returned by the run command when the transcript
// contains failures.
type TestFailuresError struct {
	Failed  int
	Errored int
}

func (e *TestFailuresError) Error() string {
	return fmt.Sprintf("%d tests failed, %d errored", e.Failed, e.Errored)
}

// globalOptions holds the persistent flags and the configuration they
// select.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	domain     string

	cfg config.FeditestConfig
	// domainSet records that the domain came from --domain or the
	// configuration file rather than the default.
	domainSet bool
}

// load reads the configuration and sets up logging. Flags override the
// configuration file.
func (g *globalOptions) load(cmd *cobra.Command) error {
	path := g.configPath
	if path == "" {
		var err error
		if path, err = config.GetDefaultConfigPath(); err != nil {
			return err
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if g.domain != "" {
		cfg.Domain = g.domain
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	g.domainSet = g.domain != "" || cfg.Domain != config.GetDefaultConfig().Domain

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.InitForCLI(level, logging.Format(cfg.Logging.Format), cmd.ErrOrStderr())
	g.cfg = cfg
	return nil
}

// openRegistry loads the registry at path, or starts one for the configured
// domain. An existing registry for another domain is rejected when the
// domain was set explicitly.
func (g *globalOptions) openRegistry(path string) (*registry.Registry, error) {
	reg, err := registry.LoadOrNew(path, g.cfg.Domain)
	if err != nil {
		return nil, err
	}
	if g.domainSet && reg.Domain() != g.cfg.Domain {
		return nil, fmt.Errorf("registry %s allocates hostnames in %q, not %q: use another registry file or remove it", path, reg.Domain(), g.cfg.Domain)
	}
	return reg, nil
}

// rootCmd represents the base command for the feditest application.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "feditest",
		Short: "Run interoperability tests against Fediverse nodes",
		Long: `feditest provisions a constellation of Fediverse nodes for every session of a
test plan, runs the plan's tests against them and records the results in a
transcript.

Hostnames and TLS certificates for the nodes come from a local registry that
acts as a private certificate authority. The registry is kept in a file between
runs so certificates stay stable.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config-path", "", "Directory containing feditest.yaml (default ~/.config/feditest)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&g.domain, "domain", "", "DNS domain for allocated hostnames")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newPlanCmd(g))
	cmd.AddCommand(newRegistryCmd(g))
	cmd.AddCommand(newTestsCmd())
	return cmd
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "feditest version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var fatal *run.FatalError
	if errors.As(err, &fatal) {
		return ExitCodeFatal
	}

	var failures *TestFailuresError
	if errors.As(err, &failures) {
		return ExitCodeTestFailures
	}

	return ExitCodeError
}
