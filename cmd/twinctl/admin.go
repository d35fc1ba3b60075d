package main

import (
	"fmt"

	"github.com/Harshitk-cp/twinledger/internal/api"
	"github.com/Harshitk-cp/twinledger/internal/api/handlers"
	"github.com/Harshitk-cp/twinledger/internal/buildconfig"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			printStatus(w, "Version", "%s", buildconfig.Version())
			printStatus(w, "Commit", "%s", buildconfig.Commit())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending schema migrations to the configured backend.

STORAGE_BACKEND selects postgres (DATABASE_URL) or sqlite (SQLITE_PATH).`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			if err := e.backend.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}
			printSuccess("%s schema is up to date", e.backend.Name)
			return nil
		}),
	}
}

func newTenantCmd() *cobra.Command {
	tenant := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	tenant.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a tenant and print its API key",
		Long: `Create a tenant and print its API key.

The key is shown once; only its hash is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			t, key, err := handlers.CreateTenant(cmd.Context(), e.backend.Tenants, args[0])
			if err != nil {
				return err
			}
			printSuccess("Created tenant %s", t.Name)
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"id":      t.ID.String(),
				"name":    t.Name,
				"api_key": key,
			})
		}),
	}, &cobra.Command{
		Use:   "list",
		Short: "List tenants, oldest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenants, err := e.backend.Tenants.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(tenants) == 0 {
				printWarning("No tenants yet; create one with: twinctl tenant create NAME")
			}
			return printJSON(cmd.OutOrStdout(), tenants)
		}),
	})
	return tenant
}

func newMCPCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio for one tenant",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			if _, err := e.backend.Tenants.GetByID(cmd.Context(), id); err != nil {
				return fmt.Errorf("tenant %s: %w", id, err)
			}
			s := api.NewMCPServer(api.MCPDeps{TenantID: id, Services: e.svcs, Logger: e.logger})
			return server.ServeStdio(s)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id the tools act for (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
