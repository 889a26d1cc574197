// Command agentctl manages the lifecycle of long-running AI agents.
//
// Configuration comes from an optional file (--config) and AGENTCTL_*
// environment variables, for example:
//
//	AGENTCTL_STATE_BACKEND=postgres AGENTCTL_POSTGRES_URI=postgres://... agentctl serve
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/StricklySoft/agent-lifecycle/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(cli.NewApp()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
