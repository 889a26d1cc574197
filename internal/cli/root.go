package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func okMark() string   { return color.New(color.FgGreen).Sprint("✓") }
func failMark() string { return color.New(color.FgRed).Sprint("✗") }

// NewRootCmd builds the agentctl command tree over app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Manage the lifecycle of long-running AI agents",
		Long:          "agentctl registers agents, records heartbeats, recovers failures, and shuts the fleet down gracefully.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML or JSON config file")
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	root.AddCommand(
		registerCmd(app),
		initCmd(app),
		pauseCmd(app),
		resumeCmd(app),
		heartbeatCmd(app),
		failCmd(app),
		cleanupCmd(app),
		listCmd(app),
		recoverCmd(app),
		healthCmd(app),
		statsCmd(app),
		sweepCmd(app),
		shutdownCmd(app),
		serveCmd(app),
	)
	return root
}

// withRuntime opens the services for cmd, runs fn, and closes them.
func (a *App) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	path, _ := cmd.Flags().GetString("config")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := a.open(ctx, path)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints one line per agent operation outcome and fails the
// command when any operation was rejected.
func (a *App) report(verb string, results map[string]bool, order []string) error {
	var rejected []string
	for _, id := range order {
		if results[id] {
			fmt.Fprintf(a.Out, "%s %s %s\n", okMark(), verb, id)
			continue
		}
		fmt.Fprintf(a.Out, "%s %s %s rejected\n", failMark(), verb, id)
		rejected = append(rejected, id)
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%s rejected for %v", verb, rejected)
	}
	return nil
}
