// Command keyscope inspects and edits Redis-compatible key-value stores from
// the terminal, or serves a session over stdio for graphical front ends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kamune-org/keyscope"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyscope: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error class to the process exit status.
func exitCode(err error) int {
	switch keyscope.Classify(err) {
	case keyscope.CodeOK:
		return 0
	case keyscope.CodeNotFound:
		return 3
	case keyscope.CodeConnection:
		return 4
	case keyscope.CodeValidation, keyscope.CodeDecode:
		return 2
	default:
		return 1
	}
}
