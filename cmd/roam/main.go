// Command roam is a local-first roadmap tracker that keeps markdown
// issue files in sync with a remote issue tracker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode < 2 {
			exitCode = 2
		}
	}
	os.Exit(exitCode)
}
