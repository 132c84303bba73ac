package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cogent/internal/memory"
)

func memoryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term memory",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStorage()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.ListMemories(context.Background(), "", 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tIMPORTANCE\tCONTENT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%.2f\t%s\n", e.Type, e.Importance, e.Content)
			}
			return w.Flush()
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Rank memories against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStorage()
			if err != nil {
				return err
			}
			defer a.Close()

			recall := memory.NewRecall(a.store)
			results, err := recall.Search(context.Background(), memory.SearchQuery{Query: args[0], Limit: 10})
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.3f  [%s] %s\n", r.Score, r.Entry.Type, r.Entry.Content)
			}
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStorage()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.DeleteMemory(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("forgot", args[0])
			return nil
		},
	})
	return c
}
