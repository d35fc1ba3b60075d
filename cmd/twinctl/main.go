// Command twinctl is the admin CLI: migrations, tenants, the job queue,
// beliefs, and an MCP server on stdio.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Harshitk-cp/twinledger/internal/api"
	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/Harshitk-cp/twinledger/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

var (
	verbose bool
	noColor bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "twinctl",
		Short:         "Administer a twinledger deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	root.AddCommand(
		newVersionCmd(),
		newMigrateCmd(),
		newTenantCmd(),
		newJobsCmd(),
		newBeliefsCmd(),
		newMCPCmd(),
	)
	return root
}

// env is the opened backend and service graph one command runs against.
type env struct {
	logger  *zap.Logger
	backend *api.Backend
	svcs    *api.Services
}

func (e *env) Close() {
	e.backend.Close()
	_ = e.logger.Sync()
}

func openEnv(ctx context.Context) (*env, error) {
	if err := config.Load(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := zap.NewNop()
	if verbose {
		logger = zap.Must(zap.NewDevelopment())
	}

	backend, err := api.OpenBackend(ctx, logger)
	if err != nil {
		return nil, err
	}
	svcs, err := api.NewServices(backend, api.NewClients(logger), metrics.New(), logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &env{logger: logger, backend: backend, svcs: svcs}, nil
}

// withEnv adapts a command body that needs the service graph.
func withEnv(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, args, e)
	}
}
