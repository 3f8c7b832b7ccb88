package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fediverse-devnet/feditest-sub000/internal/catalog"
	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/node/sandbox"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
	"github.com/fediverse-devnet/feditest-sub000/internal/run"
)

func newPlanCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Work with test plan files",
	}
	cmd.AddCommand(newPlanValidateCmd(g))
	cmd.AddCommand(newPlanSchemaCmd())
	return cmd
}

func newPlanValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN...",
		Short: "Check test plan files without running them",
		Long: `Checks each plan against the plan schema, checks its role mappings, and
checks that every test exists and every node configuration is accepted by its
driver. Nothing is provisioned.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The registry only backs hostname allocation, which validation never reaches.
			reg := registry.New(g.cfg.Domain)
			engine := run.New(node.NewDrivers(sandbox.NewDriver(reg)), catalog.Builtin(), run.WithRegistry(reg))

			var errs []error
			for _, path := range args {
				p, err := plan.LoadFile(path)
				if err == nil {
					err = engine.Check(p)
				}
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID\n%v\n", path, err)
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d sessions)\n", path, len(p.Sessions))
			}
			return errors.Join(errs...)
		},
	}
}

func newPlanSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of test plan files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := plan.GenerateJSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	}
}
