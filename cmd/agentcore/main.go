// Command agentcore is the process entry point for the execution-control
// runtime of SPEC_FULL.md §7: an IPC server by default, plus `run`,
// `workflow`, `daemon`, and `workflow status` subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !looksLikeFlag(args[0]) {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "run":
		err = runOneShot(args)
	case "workflow":
		err = runWorkflowCommand(args)
	case "daemon":
		err = runDaemonCommand(args)
	default:
		err = fmt.Errorf("unknown subcommand %q (expected serve, run, workflow, or daemon)", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
		os.Exit(1)
	}
}

func looksLikeFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

// shutdownContext bounds graceful teardown to a fixed window so a stuck
// worker process can never hang the CLI exit path indefinitely.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
