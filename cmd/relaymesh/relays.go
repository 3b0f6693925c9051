package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func relaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "Manage the configured relay set",
	}

	cmd.AddCommand(
		relaysListCmd(),
		relaysAddCmd(),
		relaysRemoveCmd(),
		relaysToggleCmd(),
	)

	return cmd
}

func relaysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the effective relay set",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			eps := e.resolver.Local(ctx)
			rows := make([][]string, 0, len(eps))
			for _, ep := range eps {
				rows = append(rows, []string{ep.URL, axis(ep.Read), axis(ep.Write)})
			}

			fmt.Println(titleStyle.Render("Relays"))
			fmt.Println(renderTable([]string{"URL", "READ", "WRITE"}, rows))
			if e.cfg.Identity == "" {
				fmt.Println(mutedStyle.Render("no identity configured, showing bootstrap defaults"))
			}
			return nil
		},
	}
}

func relaysAddCmd() *cobra.Command {
	var (
		readOnly  bool
		writeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Add a relay to the configured set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.resolver.AddEndpoint(args[0], !writeOnly, !readOnly); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("added " + args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "use the relay for reads only")
	cmd.Flags().BoolVar(&writeOnly, "write-only", false, "use the relay for writes only")

	return cmd
}

func relaysRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Remove a relay from the configured set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.resolver.RemoveEndpoint(args[0]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("removed " + args[0]))
			return nil
		},
	}
}

func relaysToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <url> <read|write>",
		Short: "Flip the read or write permission on a relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.resolver.TogglePermission(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("toggled " + args[1] + " on " + args[0]))
			return nil
		},
	}
}

func axis(on bool) string {
	if on {
		return okStyle.Render("yes")
	}
	return offStyle.Render("no")
}
