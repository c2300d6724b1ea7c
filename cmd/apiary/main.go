package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"apiary/internal/app"
	"apiary/internal/config"
	"apiary/internal/db"
	"apiary/internal/engine"
	"apiary/internal/event"
	"apiary/internal/plan"
	"apiary/internal/projection"
	"apiary/internal/repo"
	"apiary/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "apiary",
	Short: "Apiary CLI",
	Long: `Apiary coordinates multi-agent work over a tamper-evident event log.
Core concepts:
- Hive: the long-lived mission that owns colonies and requirement history.
- Colony: a squad of workers; its status is derived from the runs inside it.
- Run: one goal decomposed into tasks and executed layer by layer.
- Akashic record: the hash-chained, append-only event log; every run, task
  and approval is an event, and 'apiary log verify' proves nothing was edited.
- Policy gate: classifies goals by risk (read_only/reversible/irreversible)
  and decides allow, require_approval or deny from the configured trust level.
- Waggle: a validation verdict on a task's output, recorded like a bee dance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("APIARY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(hiveCmd())
	rootCmd.AddCommand(colonyCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(lineageCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var hiveID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default apiary.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if hiveID == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				hiveID = filepath.Base(abs)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(hiveID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (hive %s)\n", path, hiveID)
			return nil
		},
	}
	cmd.Flags().StringVar(&hiveID, "hive", "", "hive id (defaults to workspace directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func hiveCmd() *cobra.Command {
	hive := &cobra.Command{
		Use:   "hive",
		Short: "Manage hives",
		Long:  "A hive is the top-level mission. Creating one appends hive.created to its chain; closing it is terminal.",
	}
	hive.AddCommand(hiveCreateCmd())
	hive.AddCommand(hiveListCmd())
	hive.AddCommand(hiveShowCmd())
	hive.AddCommand(hiveCloseCmd())
	hive.AddCommand(hiveRequirementCmd())
	return hive
}

func hiveCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				h, err := env.Engine.CreateHive(ctx, id, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "hive id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func hiveListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				hives, err := env.Engine.ListHives(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hives)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Colonies", "Events"})
				for _, h := range hives {
					tw.AppendRow(table.Row{h.ID, h.Name, h.Status, strings.Join(h.Colonies, ","), h.EventCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func hiveShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a hive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				h, err := env.Engine.GetHive(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	return cmd
}

func hiveCloseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a hive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				h, err := env.Engine.CloseHive(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "closing reason")
	return cmd
}

func hiveRequirementCmd() *cobra.Command {
	var requirementID, change string
	cmd := &cobra.Command{
		Use:   "requirement <hive-id>",
		Short: "Record a requirement change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordRequirementChange(ctx, args[0], requirementID, change, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&requirementID, "requirement", "", "requirement id")
	cmd.Flags().StringVar(&change, "change", "", "change description")
	_ = cmd.MarkFlagRequired("requirement")
	return cmd
}

func colonyCmd() *cobra.Command {
	col := &cobra.Command{
		Use:   "colony",
		Short: "Inspect colonies",
	}
	col.AddCommand(colonyStatusCmd())
	return col
}

func colonyStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Derived colony status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("colony id required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				c, err := env.Engine.ColonyStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Colony: %s (%s)\n", c.ID, c.Status)
				for run, status := range c.Runs {
					fmt.Printf("  %s: %s\n", run, status)
				}
				return nil
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
		Long:  "A run scopes one goal. Starting a run consults the policy gate; denied goals never touch the log.",
	}
	run.AddCommand(runStartCmd())
	run.AddCommand(runCompleteCmd())
	run.AddCommand(runFailCmd())
	return run
}

func runStartCmd() *cobra.Command {
	var opts engine.StartRunOptions
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = viper.GetString("actor-id")
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.StartRun(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&opts.RunID, "id", "", "run id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.HiveID, "hive", "", "hive the run's colony belongs to")
	cmd.Flags().StringVar(&opts.ColonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "run goal")
	cmd.Flags().IntVar(&opts.TaskCount, "tasks", 0, "planned task count")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func runCompleteCmd() *cobra.Command {
	var colonyID string
	var counts event.RunCompletedPayload
	cmd := &cobra.Command{
		Use:   "complete <run-id>",
		Short: "Close a run as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.CompleteRun(ctx, args[0], colonyID, viper.GetString("actor-id"), counts)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().IntVar(&counts.Completed, "completed", 0, "completed task count")
	cmd.Flags().IntVar(&counts.Failed, "failed", 0, "failed task count")
	cmd.Flags().IntVar(&counts.Skipped, "skipped", 0, "skipped task count")
	return cmd
}

func runFailCmd() *cobra.Command {
	var colonyID, reason string
	cmd := &cobra.Command{
		Use:   "fail <run-id>",
		Short: "Close a run as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.FailRun(ctx, args[0], colonyID, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Record task events",
		Long:  "Tasks live inside a run's chain: created -> assigned -> progress -> completed/failed, plus waggle validation verdicts.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskProgressCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskFailCmd())
	task.AddCommand(taskWaggleCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var runID, colonyID string
	var t plan.Task
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record task creation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordTaskCreated(ctx, runID, colonyID, viper.GetString("actor-id"), t)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&t.ID, "id", "", "task id")
	cmd.Flags().StringVar(&t.Goal, "goal", "", "task goal")
	cmd.Flags().StringArrayVar(&t.DependsOn, "depends-on", []string{}, "dependency task id (repeatable)")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var runID, colonyID, workerID string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Record task assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordTaskAssigned(ctx, runID, args[0], colonyID, workerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func taskProgressCmd() *cobra.Command {
	var runID, colonyID, workerID, note string
	cmd := &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Record task progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordTaskProgress(ctx, runID, args[0], colonyID, workerID, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&note, "note", "", "progress note")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var runID, colonyID, workerID string
	var res event.TaskCompletedPayload
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Record task completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordTaskCompleted(ctx, runID, args[0], colonyID, workerID, res)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&res.Output, "output", "", "task output")
	cmd.Flags().IntVar(&res.ToolCalls, "tool-calls", 0, "tool calls made")
	cmd.Flags().StringArrayVar(&res.Artifacts, "artifact", []string{}, "artifact reference (repeatable)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func taskFailCmd() *cobra.Command {
	var runID, colonyID, workerID, reason string
	cmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Record task failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordTaskFailed(ctx, runID, args[0], colonyID, workerID, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskWaggleCmd() *cobra.Command {
	var runID, colonyID string
	var verdict event.WaggleValidatedPayload
	cmd := &cobra.Command{
		Use:   "waggle <task-id>",
		Short: "Record a validation verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evt, err := env.Engine.RecordWaggleValidation(ctx, runID, args[0], colonyID, viper.GetString("actor-id"), verdict)
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&colonyID, "colony", "", "colony id")
	cmd.Flags().BoolVar(&verdict.Accepted, "accepted", false, "verdict")
	cmd.Flags().Float64Var(&verdict.Score, "score", 0, "quality score")
	cmd.Flags().StringVar(&verdict.Notes, "notes", "", "reviewer notes")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func planCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "plan",
		Short: "Work with decompositions",
		Long:  "A plan is a JSON decomposition of a goal into tasks with dependencies. Preview validates it, layers it and shows the gate's verdict.",
	}
	p.AddCommand(planPreviewCmd())
	return p
}

func planPreviewCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Validate a plan and preview its execution order and risk",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			p, err := plan.ParseDecomposition(raw)
			if err != nil {
				return err
			}
			layers, err := p.ExecutionOrder()
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				class, decision := env.Config.Gate().EvaluatePlan(p, env.Config.TrustLevel())
				out := map[string]any{
					"layers":       layers,
					"action_class": class,
					"decision":     decision,
					"trust_level":  env.Config.TrustLevel(),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Risk: %s -> %s (trust %s)\n", class, decision, env.Config.TrustLevel())
				for i, layer := range layers {
					fmt.Printf("Layer %d: %s\n", i+1, strings.Join(layer, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to plan JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func approvalCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "approval",
		Short: "Resolve approval requests",
	}
	a.AddCommand(approvalResolveCmd("grant", "Grant an approval request", true))
	a.AddCommand(approvalResolveCmd("reject", "Reject an approval request", false))
	return a
}

func approvalResolveCmd(use, short string, approve bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <scope-id> <approval-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var evt *event.Event
				var err error
				if approve {
					evt, err = env.Engine.Approve(ctx, args[0], args[1], viper.GetString("actor-id"), reason)
				} else {
					evt, err = env.Engine.Reject(ctx, args[0], args[1], viper.GetString("actor-id"), reason)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "resolution reason")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Inspect the akashic record",
	}
	log.AddCommand(logScopesCmd())
	log.AddCommand(logTailCmd())
	log.AddCommand(logVerifyCmd())
	return log
}

func logScopesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scopes",
		Short: "List event scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				scopes, err := env.Store.ListScopes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(scopes)
				}
				for _, s := range scopes {
					fmt.Println(s)
				}
				return nil
			})
		},
	}
	return cmd
}

func logTailCmd() *cobra.Command {
	var scope string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail a scope's events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				events, err := env.Engine.Tail(ctx, scope, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Actor", "Task", "Hash"})
				for _, e := range events {
					tw.AppendRow(table.Row{
						e.Timestamp.UTC().Format(time.RFC3339),
						e.Type, e.Actor, e.TaskID, short(e.Hash),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id (hive or run)")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func logVerifyCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a scope's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				n, err := env.Engine.VerifyChain(ctx, scope)
				if viper.GetBool("json") {
					out := map[string]any{"scope_id": scope, "verified": n, "intact": err == nil}
					if err != nil {
						out["error"] = err.Error()
					}
					return printJSON(out)
				}
				if err != nil {
					return fmt.Errorf("chain broken after %d events: %w", n, err)
				}
				fmt.Printf("%s: %d events, chain intact\n", scope, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id (hive or run)")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func lineageCmd() *cobra.Command {
	var direction string
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "lineage <scope-id> <event-id>",
		Short: "Traverse an event's causal lineage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tr, err := env.Engine.Lineage(ctx, args[0], args[1], projection.Direction(direction), maxDepth)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr)
				}
				fmt.Printf("Origin: %s (%s)\n", tr.Origin.ID, tr.Origin.Type)
				for _, r := range tr.Related {
					fmt.Printf("  %s depth=%d %s (%s)\n", r.Relation, r.Depth, r.Event.ID, r.Event.Type)
				}
				if tr.Truncated {
					fmt.Println("  (truncated)")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "both", "ancestors, descendants or both")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 10, "traversal depth bound")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				rawKey := fmt.Sprintf("ak_%s", uuid.NewString())
				key := repo.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := env.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actorID, "key": rawKey})
				}
				fmt.Printf("Key %s for %s: %s\n", key.ID, actorID, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				keys, err := env.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return printJSONOrTable(env.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate apiary.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("APIARY_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if env.Config.Auth.JWTSecret != "" && authCfg.JWTSecret == "" {
				authCfg.JWTSecret = env.Config.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("APIARY_JWT_SECRET is required unless --allow-legacy-actor is set")
			}
			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				Repo:     env.Repo,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Apiary API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
