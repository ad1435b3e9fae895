package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/hublens/internal/model"
)

func newPinCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage pinned charts",
		Long: `Pinned charts are kept per instance and system and feed the widget
endpoint. Kinds are "system", "container" and "stacked".

Examples:
  hublens pin add homelab s1 --kind system --metric temperature
  hublens pin add homelab s1 --kind container --metric memory --name postgres
  hublens pin list homelab`,
	}
	cmd.AddCommand(
		newPinChangeCmd(opts, "add", "Pin a chart", true),
		newPinChangeCmd(opts, "remove", "Unpin a chart", false),
		newPinListCmd(opts),
	)
	return cmd
}

func newPinChangeCmd(opts *options, use, short string, add bool) *cobra.Command {
	var kind, metric, name string
	cmd := &cobra.Command{
		Use:   use + " <instance> <system-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := model.ParsePinned(kind, metric, name)
			if err != nil {
				return err
			}
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			inst, err := e.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if add {
				added, err := e.pins.Pin(inst.ID, args[1], item)
				if err != nil {
					return err
				}
				if !added {
					fmt.Fprintf(out, "%s already pinned\n", item.Key())
					return nil
				}
				success(out, "pinned %s", item.Key())
				return nil
			}
			removed, err := e.pins.Unpin(inst.ID, args[1], item)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not pinned", item.Key())
			}
			success(out, "unpinned %s", item.Key())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "system", "system, container or stacked")
	cmd.Flags().StringVar(&metric, "metric", "", "chart metric, e.g. cpu, memory, temperature")
	cmd.Flags().StringVar(&name, "name", "", "container name (container pins only)")
	_ = cmd.MarkFlagRequired("metric")
	return cmd
}

func newPinListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list [instance]",
		Short: "List pinned charts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			filter := ""
			if len(args) == 1 {
				inst, err := e.registry.Resolve(args[0])
				if err != nil {
					return err
				}
				filter = inst.ID
			}

			var rows [][]string
			for _, sc := range e.pins.Scopes() {
				if filter != "" && sc.InstanceID != filter {
					continue
				}
				for _, item := range e.pins.List(sc.InstanceID, sc.SystemID) {
					rows = append(rows, []string{sc.InstanceID, sc.SystemID, item.Key()})
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pinned charts")
				return nil
			}
			renderTable(cmd.OutOrStdout(), []string{"INSTANCE", "SYSTEM", "PIN"}, rows)
			return nil
		},
	}
}
