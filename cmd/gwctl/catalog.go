package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/federatedsql/gateway/internal/adapter"
)

func catalogCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh per-connection schema metadata",
	}

	c.AddCommand(&cobra.Command{
		Use:   "refresh DOMAIN_ID CONNECTION_ID",
		Short: "Introspect a connection's backend live and persist the result",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			ctx := context.Background()
			domainID, connID := args[0], args[1]

			conn, err := st.GetConnection(ctx, domainID, connID)
			if err != nil {
				log.Fatalf("loading connection: %s", err)
			}

			src, err := registry.New(adapter.Kind(conn.Kind))
			if err != nil {
				log.Fatalf("%s", err)
			}
			if err := src.Connect(ctx, conn.URL, adapter.PoolConfig{}); err != nil {
				log.Fatalf("connecting to %s: %s", conn.Name, err)
			}
			defer src.Close()

			cat, err := catMgr.Refresh(ctx, domainID, connID, src)
			if err != nil {
				log.Fatalf("refreshing catalog: %s", err)
			}
			printCatalog(cat)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "show DOMAIN_ID CONNECTION_ID",
		Short: "Print the cached catalog for a connection without touching its backend",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			cat, err := catMgr.LoadOrFetch(context.Background(), args[0], args[1], nil, false)
			if err != nil {
				log.Fatalf("loading catalog: %s", err)
			}
			printCatalog(cat)
		},
	})

	return c
}

func printCatalog(cat any) {
	out, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		log.Fatalf("encoding catalog: %s", err)
	}
	fmt.Println(string(out))
}
