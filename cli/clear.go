package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newClearCommand(a *app) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the vector index and the source catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !confirmed {
				fmt.Fprintf(cmd.OutOrStdout(), "This will permanently delete the index at %s. Continue? [y/N]: ", rt.store.Location())
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return fmt.Errorf("read confirmation: %w", err)
					}
					rt.logger.Println("clear aborted")
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					rt.logger.Println("clear aborted")
					return nil
				}
			}

			ctx := cmd.Context()
			if err := rt.store.Reset(ctx); err != nil {
				return fmt.Errorf("clear index: %w", err)
			}
			rt.logger.Printf("removed index at %s", rt.store.Location())

			if rt.catalog != nil {
				if err := rt.catalog.Purge(ctx); err != nil {
					return fmt.Errorf("clear source catalog: %w", err)
				}
				rt.logger.Println("source catalog cleared")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "index cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}
