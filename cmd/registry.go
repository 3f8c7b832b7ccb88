package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
)

func newRegistryCmd(g *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and manage the hostname and certificate registry",
	}
	cmd.PersistentFlags().StringVar(&file, "registry", "", "Registry file (default from configuration)")

	path := func() string { return firstNonEmpty(file, g.cfg.RegistryFile) }
	load := func() (*registry.Registry, error) {
		return g.openRegistry(path())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the registry domain, CA and hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load()
			if err != nil {
				return err
			}
			doc := reg.Document()
			fmt.Fprintf(cmd.OutOrStdout(), "Registry file: %s\nDomain:        %s\nCA key:        %s\nCA cert:       %s\n",
				path(), doc.CA.Domain, presence(doc.CA.Key), presence(doc.CA.Cert))

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Host", "Key", "Cert"})
			for _, h := range reg.Hosts() {
				info := doc.Hosts[h]
				t.AppendRow(table.Row{h, presence(info.Key), presence(info.Cert)})
			}
			t.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "hosts",
		Short: "List the allocated hostnames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load()
			if err != nil {
				return err
			}
			for _, h := range reg.Hosts() {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new-hostname HINT",
		Short: "Allocate a new hostname derived from HINT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load()
			if err != nil {
				return err
			}
			host := reg.ObtainNewHostname(args[0])
			if err := reg.Save(path()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), host)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "root-cert",
		Short: "Print the CA certificate, creating the CA if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load()
			if err != nil {
				return err
			}
			root, err := reg.ObtainRegistryRoot()
			if err != nil {
				return err
			}
			if err := reg.Save(path()); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), root.Cert)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "host-cert HOST",
		Short: "Print the key and certificate of HOST, issuing them if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load()
			if err != nil {
				return err
			}
			info, err := reg.ObtainHostInfo(args[0])
			if err != nil {
				return err
			}
			if err := reg.Save(path()); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), info.Key, info.Cert)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-root-key",
		Short: "Forget the CA key so a new CA is created on next use",
		Long: `Forgets the CA key and certificate. The next run creates a new CA and reissues
every host certificate. Host keys are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(path())
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(cmd.OutOrStdout(), "No registry file, nothing to clear")
					return nil
				}
				return err
			}
			reg.ClearRootKey()
			return reg.Save(path())
		},
	})

	return cmd
}

func presence(pem string) string {
	if pem == "" {
		return "-"
	}
	return "present"
}
