package main

import (
	"fmt"

	"github.com/deviceops/categorysync/internal/mdm"
	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <category-name>",
		Short: "Resolve a category display name to its platform identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := mdm.NewClientFromEnv()
			if err != nil {
				return err
			}
			id, err := client.ResolveCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	return cmd
}
