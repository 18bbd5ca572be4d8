package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func domainCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "domain",
		Short: "Manage query domains",
	}

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new domain",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			desc, _ := cmd.Flags().GetString("description")
			d, err := st.CreateDomain(context.Background(), args[0], desc)
			if err != nil {
				log.Fatalf("creating domain: %s", err)
			}
			fmt.Printf("created domain %s (%s)\n", d.Name, d.ID)
		},
	}
	createCmd.Flags().String("description", "", "domain description")
	c.AddCommand(createCmd)

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all domains",
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			domains, err := st.ListDomains(context.Background())
			if err != nil {
				log.Fatalf("listing domains: %s", err)
			}
			for _, d := range domains {
				fmt.Printf("%s\t%s\t%s\n", d.ID, d.Name, d.Description)
			}
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a domain and everything it owns (cascade)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			if err := st.DeleteDomain(context.Background(), args[0]); err != nil {
				log.Fatalf("deleting domain: %s", err)
			}
			fmt.Printf("deleted domain %s\n", args[0])
		},
	})

	return c
}
