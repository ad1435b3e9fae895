package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/hublens/internal/instance"
)

func newInstanceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"instances"},
		Short:   "Manage hub instances",
	}
	cmd.AddCommand(
		newInstanceAddCmd(opts),
		newInstanceUpdateCmd(opts),
		newInstanceListCmd(opts),
		newInstanceRemoveCmd(opts),
	)
	return cmd
}

// instanceFlags are the fields accepted by add and update.
type instanceFlags struct {
	name, url, email, password, token string
	insecure                          bool
}

func (f *instanceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name (defaults to the URL host)")
	cmd.Flags().StringVar(&f.url, "url", "", "hub base URL")
	cmd.Flags().StringVar(&f.email, "email", "", "login email (not needed with --token)")
	cmd.Flags().StringVar(&f.password, "password", "", "login password")
	cmd.Flags().StringVar(&f.token, "token", "", "long-lived bearer token instead of a password")
	cmd.Flags().BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
	cmd.MarkFlagsMutuallyExclusive("password", "token")
}

func (f *instanceFlags) params(cmd *cobra.Command) instance.Params {
	p := instance.Params{Name: f.name, URL: f.url, Email: f.email, Secret: f.password}
	if f.token != "" {
		p.Secret = f.token
	}
	if cmd.Flags().Changed("insecure") {
		insecure := f.insecure
		p.Insecure = &insecure
	}
	return p
}

func newInstanceAddCmd(opts *options) *cobra.Command {
	var f instanceFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a hub instance",
		Long: `Register a hub instance. The secret is sealed in the local database; the
hub is not contacted until the server runs.

Examples:
  hublens instance add --url https://hub.lan --email me@lan --password secret
  hublens instance add --name office --url https://10.0.0.5:8090 --token eyJ... --insecure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			inst, err := e.registry.Add(f.params(cmd))
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "added %s (%s)", inst.Name, inst.ID)
			return nil
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newInstanceUpdateCmd(opts *options) *cobra.Command {
	var f instanceFlags
	cmd := &cobra.Command{
		Use:   "update <id-or-name>",
		Short: "Change an instance's address, login or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			inst, err := e.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			inst, err = e.registry.Update(inst.ID, f.params(cmd))
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "updated %s (%s)", inst.Name, inst.ID)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newInstanceListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered instances",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.registry.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No instances registered")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, inst := range list {
				rows = append(rows, []string{inst.ID, inst.Name, inst.URL, inst.Email, strconv.FormatBool(inst.Insecure)})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "URL", "EMAIL", "INSECURE"}, rows)
			return nil
		},
	}
}

func newInstanceRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id-or-name>",
		Aliases: []string{"rm"},
		Short:   "Remove an instance with its secret, token, pins and alert state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			inst, err := e.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			if err := e.registry.RemoveInstance(inst.ID); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "removed %s (%s)", inst.Name, inst.ID)
			return nil
		},
	}
}
