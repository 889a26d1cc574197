package cli

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
)

func statusColor(s lifecycle.Status) *color.Color {
	switch s {
	case lifecycle.StatusActive, lifecycle.StatusHealthy:
		return color.New(color.FgGreen)
	case lifecycle.StatusPaused, lifecycle.StatusInitializing:
		return color.New(color.FgYellow)
	case lifecycle.StatusFailed:
		return color.New(color.FgRed)
	}
	return color.New(color.FgHiBlack)
}

func overallColor(h lifecycle.OverallHealth) *color.Color {
	switch h {
	case lifecycle.OverallHealthy:
		return color.New(color.FgGreen, color.Bold)
	case lifecycle.OverallDegraded:
		return color.New(color.FgYellow, color.Bold)
	}
	return color.New(color.FgRed, color.Bold)
}

func listCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return app.withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				states := rt.registry.AgentStates()
				if asJSON {
					return app.printJSON(states)
				}
				if len(states) == 0 {
					fmt.Fprintln(app.Out, "No agents registered")
					return nil
				}
				w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tSCORE\tFAILURES\tSTATUS")
				for _, id := range rt.registry.AgentIDs() {
					s := states[id]
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
						id, s.Type, s.HealthScore, s.FailureCount, statusColor(s.Status).Sprint(s.Status))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Bool("json", false, "print full records as JSON")
	return cmd
}

func healthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show fleet health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				fleet := rt.health.AgentHealthStatus(ctx)
				if asJSON {
					return app.printJSON(fleet)
				}
				fmt.Fprintf(app.Out, "Fleet: %s (%d total, %d active, %d paused, %d failed)\n",
					overallColor(fleet.OverallHealth).Sprint(fleet.OverallHealth),
					fleet.TotalAgents, fleet.ActiveAgents, fleet.PausedAgents, fleet.FailedAgents)
				if fleet.TotalAgents == 0 {
					return nil
				}

				ids := make([]string, 0, len(fleet.Agents))
				for id := range fleet.Agents {
					ids = append(ids, id)
				}
				slices.Sort(ids)

				w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tSCORE\tUPTIME\tERRORS\tRESTARTS\tHEALTHY\tSTATUS")
				for _, id := range ids {
					a := fleet.Agents[id]
					healthy := failMark()
					if a.IsHealthy {
						healthy = okMark()
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
						a.ID, a.Type, a.HealthScore, a.Uptime, a.ErrorCount, a.RestartCount,
						healthy, statusColor(a.Status).Sprint(a.Status))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}

func statsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print lifecycle statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return app.printJSON(rt.scheduler.LifecycleStats(ctx))
			})
		},
	}
}

func recoverCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover failed agents",
		Long: "recover runs automatic recovery, which honors the cooldown and the failure ceiling. " +
			"With --force every failed agent is re-initialized immediately.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if force {
					return app.printJSON(rt.scheduler.RecoverFailedAgents(ctx))
				}
				return app.printJSON(rt.scheduler.PerformAutomaticRecovery(ctx))
			})
		},
	}
	cmd.Flags().Bool("force", false, "skip the cooldown and failure ceiling")
	return cmd
}

func sweepCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Repair corrupted records, fail silent agents, and run recovery once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return app.printJSON(rt.scheduler.Sweep(ctx))
			})
		},
	}
}

func shutdownCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Gracefully shut down every live agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return app.printJSON(rt.scheduler.InitiateGracefulShutdown(ctx, timeout))
			})
		},
	}
	cmd.Flags().Duration("timeout", 0, "shutdown wait (default: lifecycle shutdown_timeout)")
	return cmd
}
