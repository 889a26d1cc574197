package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
)

func registerCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "Register an agent, replacing any existing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType, _ := cmd.Flags().GetString("type")
			pairs, _ := cmd.Flags().GetStringArray("set")
			cfg, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.registry.RegisterAgent(ctx, args[0], agentType, cfg); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "%s registered %s (%s)\n", okMark(), args[0], agentType)
				return nil
			})
		},
	}
	cmd.Flags().StringP("type", "t", "", "agent type")
	cmd.Flags().StringArray("set", nil, "config entry as key=value (repeatable)")
	return cmd
}

// transitionCmd builds the commands that apply one executor transition to
// each argument.
func transitionCmd(app *App, use, short, verb string, op func(*runtime) func(context.Context, string) bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <agent-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				fn := op(rt)
				results := make(map[string]bool, len(args))
				for _, id := range args {
					results[id] = fn(ctx, id)
				}
				return app.report(verb, results, args)
			})
		},
	}
}

func initCmd(app *App) *cobra.Command {
	return transitionCmd(app, "init", "Initialize registered agents", "initialized",
		func(rt *runtime) func(context.Context, string) bool { return rt.executor.InitializeAgent })
}

func pauseCmd(app *App) *cobra.Command {
	return transitionCmd(app, "pause", "Pause active or healthy agents", "paused",
		func(rt *runtime) func(context.Context, string) bool { return rt.executor.PauseAgent })
}

func resumeCmd(app *App) *cobra.Command {
	return transitionCmd(app, "resume", "Resume paused agents", "resumed",
		func(rt *runtime) func(context.Context, string) bool { return rt.executor.ResumeAgent })
}

func heartbeatCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat <agent-id>",
		Short: "Record a heartbeat with optional metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("metric")
			metrics, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if !rt.health.RecordHeartbeat(ctx, args[0], lifecycle.Metrics(metrics)) {
					return fmt.Errorf("agent %s is not registered", args[0])
				}
				s, _ := rt.registry.AgentState(args[0])
				fmt.Fprintf(app.Out, "%s heartbeat %s (health score %d)\n", okMark(), args[0], s.HealthScore)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayP("metric", "m", nil, "metric as key=value (repeatable)")
	return cmd
}

func failCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <agent-id>",
		Short: "Mark an agent as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok := rt.health.MarkAgentAsFailed(ctx, args[0], reason)
				return app.report("marked failed", map[string]bool{args[0]: ok}, args)
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "", "failure reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func cleanupCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <agent-id>...",
		Short: "Remove agents and all of their persisted data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				for _, id := range args {
					rt.executor.CleanupAgent(ctx, id)
					fmt.Fprintf(app.Out, "%s cleaned up %s\n", okMark(), id)
				}
				return nil
			})
		},
	}
}

// parsePairs turns key=value arguments into a map. "true" and "false"
// become bools, numbers become float64, anything else stays a string.
func parsePairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q: want key=value", p)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func parseValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}
