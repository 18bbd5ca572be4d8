package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func savedQueryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "saved-query",
		Short: "Manage named, reusable saved queries",
	}

	createCmd := &cobra.Command{
		Use:   "create DOMAIN_ID CONNECTION_ID NAME SQL",
		Short: "Save a query for reuse",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			desc, _ := cmd.Flags().GetString("description")
			q, err := st.CreateSavedQuery(context.Background(), args[0], args[1], args[2], args[3], desc)
			if err != nil {
				log.Fatalf("creating saved query: %s", err)
			}
			fmt.Printf("saved query %s (%s)\n", q.Name, q.ID)
		},
	}
	createCmd.Flags().String("description", "", "saved query description")
	c.AddCommand(createCmd)

	c.AddCommand(&cobra.Command{
		Use:   "list DOMAIN_ID",
		Short: "List saved queries in a domain",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			qs, err := st.ListSavedQueries(context.Background(), args[0])
			if err != nil {
				log.Fatalf("listing saved queries: %s", err)
			}
			for _, q := range qs {
				fmt.Printf("%s\t%s\t%s\n", q.ID, q.Name, q.SQL)
			}
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "delete DOMAIN_ID ID",
		Short: "Delete a saved query",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			if err := st.DeleteSavedQuery(context.Background(), args[0], args[1]); err != nil {
				log.Fatalf("deleting saved query: %s", err)
			}
			fmt.Printf("deleted saved query %s\n", args[1])
		},
	})

	return c
}
