package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func connectionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "connection",
		Short: "Manage backend connections registered under a domain",
	}

	createCmd := &cobra.Command{
		Use:   "create DOMAIN_ID NAME URL KIND",
		Short: "Register a connection (KIND: postgres|mysql|doris|druid)",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			conn, err := st.CreateConnection(context.Background(), args[0], args[1], args[2], args[3])
			if err != nil {
				log.Fatalf("creating connection: %s", err)
			}
			fmt.Printf("created connection %s (%s)\n", conn.Name, conn.ID)
		},
	}
	c.AddCommand(createCmd)

	c.AddCommand(&cobra.Command{
		Use:   "list DOMAIN_ID",
		Short: "List connections in a domain",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			conns, err := st.ListConnections(context.Background(), args[0])
			if err != nil {
				log.Fatalf("listing connections: %s", err)
			}
			for _, conn := range conns {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", conn.ID, conn.Name, conn.Kind, conn.Status, conn.URL)
			}
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "delete DOMAIN_ID ID",
		Short: "Delete a connection (saved queries/history are orphaned, not deleted)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			if err := st.DeleteConnection(context.Background(), args[0], args[1]); err != nil {
				log.Fatalf("deleting connection: %s", err)
			}
			fmt.Printf("deleted connection %s\n", args[1])
		},
	})

	return c
}
