package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/config"
)

func newModelsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List premium request multipliers known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := opts.cfg.Catalog()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tMULTIPLIER\tPREMIUM")
			for _, name := range cat.Models() {
				premium := "no"
				if cat.IsPremium(name) {
					premium = "yes"
				}
				fmt.Fprintf(tw, "%s\t%sx\t%s\n", name, strconv.FormatFloat(cat.Multiplier(name), 'f', -1, 64), premium)
			}
			fmt.Fprintf(tw, "\nservice value: $%s per premium request\n", cat.Rate().String())
			return tw.Flush()
		},
	}

	var premium bool
	set := &cobra.Command{
		Use:   "set <model> <multiplier>",
		Short: "Override a model's multiplier in settings.json",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			multiplier, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid multiplier %q: %w", args[1], err)
			}
			model := catalog.Model{Multiplier: multiplier, Premium: premium || multiplier > 0}
			if err := config.SaveModelTo(opts.configPath, args[0], model); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s = %sx to %s\n", args[0], args[1], opts.configPath)
			return nil
		},
	}
	set.Flags().BoolVar(&premium, "premium", false, "count the model as premium even at multiplier 0")
	cmd.AddCommand(set)
	return cmd
}
