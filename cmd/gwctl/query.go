package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/federatedsql/gateway/internal/facade"
)

func queryCmd() *cobra.Command {
	var aliasFlags []string
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "query DOMAIN_ID SQL",
		Short: "Run a one-shot federated query and print the result as JSON",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setup()

			aliases, err := parseAliases(aliasFlags)
			if err != nil {
				log.Fatalf("%s", err)
			}

			res, err := svc.Query(context.Background(), facade.QueryRequest{
				DomainID: args[0],
				SQL:      args[1],
				Aliases:  aliases,
				Timeout:  timeout,
			})
			if err != nil {
				log.Fatalf("query failed: %s", err)
			}

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				log.Fatalf("encoding result: %s", err)
			}
			fmt.Println(string(out))
		},
	}

	c.Flags().StringArrayVar(&aliasFlags, "alias", nil, "alias=connection_id, repeatable")
	c.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (defaults to facade.max_timeout)")
	return c
}

// parseAliases turns repeated --alias alias=connection_id flags into the
// map facade.QueryRequest.Aliases expects.
func parseAliases(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --alias %q, expected alias=connection_id", f)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
