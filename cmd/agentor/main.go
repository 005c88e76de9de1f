// Command agentor runs the secure multi-agent orchestration runtime:
// capability-scoped tool dispatch, a fixed Spec/Coder/Tester/Reviewer
// pipeline, hybrid memory retrieval, and an approval gateway for tool
// calls that need a human decision.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentor",
		Short: "Secure multi-agent orchestration runtime",
	}
	cmd.AddCommand(buildRunCmd(), buildValidateCmd())
	return cmd
}
