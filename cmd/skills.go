package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func skillsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "skills",
		Short: "Manage SKILL.md bundles",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStorage()
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENABLED\tUSES\tDESCRIPTION")
			for _, sk := range a.skills.List() {
				fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", sk.ID, sk.Enabled, sk.UseCount, sk.Description)
			}
			return w.Flush()
		},
	})
	c.AddCommand(skillsToggleCmd("enable", true))
	c.AddCommand(skillsToggleCmd("disable", false))
	return c
}

func skillsToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: verb + " a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStorage()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.skills.SetEnabled(args[0], enabled); err != nil {
				return err
			}
			fmt.Printf("%sd %s\n", verb, args[0])
			return nil
		},
	}
}
