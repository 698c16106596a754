// Command schoolgate-admin manages password users, registered sessions and
// database migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apperrors "github.com/qslabs/schoolgate/internal/errors"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newInfra()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", apperrors.Describe(err))
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(deps *infra) *cobra.Command {
	root := &cobra.Command{
		Use:           "schoolgate-admin",
		Short:         "Administer schoolgate users, sessions and schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return deps.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return deps.close()
		},
	}
	root.PersistentFlags().BoolVarP(&deps.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newMigrateCmd(deps),
		newUserCmd(deps),
		newSessionCmd(deps),
	)
	return root
}
