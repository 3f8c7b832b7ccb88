package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/fediverse-devnet/feditest-sub000/internal/catalog"
	"github.com/fediverse-devnet/feditest-sub000/internal/controller"
	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/node/sandbox"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
	"github.com/fediverse-devnet/feditest-sub000/internal/run"
	"github.com/fediverse-devnet/feditest-sub000/internal/transcript"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

type runOptions struct {
	interactive bool
	transcript  string
	registry    string
	trustBundle string
	recordWho   bool
	quiet       bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run PLAN",
		Short: "Run a test plan",
		Long: `Runs every session of the test plan and writes a JSON transcript.

Exit codes:
  0  all tests passed or were skipped
  1  the plan could not be run
  2  some tests failed or errored
  3  the run stopped on a condition the transcript cannot represent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, g, o, args[0])
		},
	}

	cmd.Flags().BoolVarP(&o.interactive, "interactive", "i", false, "Ask what to run next at every session, test and step")
	cmd.Flags().StringVarP(&o.transcript, "transcript", "o", "", "Transcript file (default <reportDir>/<run id>.json)")
	cmd.Flags().StringVar(&o.registry, "registry", "", "Registry file (default from configuration)")
	cmd.Flags().StringVar(&o.trustBundle, "trust-bundle", "", "Certificate bundle to patch with the registry CA (default $SSL_CERT_FILE)")
	cmd.Flags().BoolVar(&o.recordWho, "record-who", false, "Record the local user and host name in the transcript")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Do not print the summary or progress indicators")
	return cmd
}

func runPlan(cmd *cobra.Command, g *globalOptions, o *runOptions, planPath string) error {
	cfg := g.cfg
	p, err := plan.LoadFile(planPath)
	if err != nil {
		return err
	}

	regPath := firstNonEmpty(o.registry, cfg.RegistryFile)
	reg, err := g.openRegistry(regPath)
	if err != nil {
		return err
	}
	previous := registry.Replace(reg)
	defer registry.Replace(previous)

	opts := []run.Option{
		run.WithRegistry(reg),
		run.WithTrustBundle(registry.NewTrustBundle(firstNonEmpty(o.trustBundle, cfg.TrustBundle))),
		run.WithRecordWho(o.recordWho || cfg.RecordWho),
	}
	if !o.quiet {
		opts = append(opts, run.WithSettleHook(settleSpinner(cmd)))
	}
	engine := run.New(node.NewDrivers(sandbox.NewDriver(reg)), catalog.Builtin(), opts...)
	if err := engine.Check(p); err != nil {
		return fmt.Errorf("plan %s cannot be run: %w", planPath, err)
	}

	var ctrl controller.Controller = controller.Automatic{}
	if o.interactive || cfg.Interactive {
		interactive, closeFn, err := controller.NewTerminal()
		if err != nil {
			return err
		}
		defer closeFn()
		ctrl = interactive
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	tr, runErr := engine.Run(ctx, p, ctrl)
	if err := reg.Save(regPath); err != nil {
		logging.Error("Registry", err, "Failed to save registry to %s", regPath)
	}
	if runErr != nil {
		return runErr
	}

	t := transcript.Transcribe(tr)
	out := o.transcript
	if out == "" {
		out = filepath.Join(cfg.ReportDir, tr.ID+".json")
	}
	if err := t.Save(out); err != nil {
		return err
	}
	logging.Info("Run", "Wrote transcript to %s", out)

	if !o.quiet {
		t.WriteSummary(cmd.OutOrStdout())
	}
	if t.HasFailures() {
		return &TestFailuresError{Failed: t.Summary.Failed, Errored: t.Summary.Errored}
	}
	return nil
}

// settleSpinner shows a spinner on stderr while the nodes settle.
func settleSpinner(cmd *cobra.Command) func(time.Duration) func() {
	return func(d time.Duration) func() {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = fmt.Sprintf(" Waiting %s for nodes to settle...", d)
		s.Start()
		return s.Stop
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
