package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"overwatch/internal/app"
	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/domain"
	"overwatch/internal/health"
	"overwatch/internal/integrity"
	"overwatch/internal/runner"
	"overwatch/internal/score"
	"overwatch/internal/secscan"
	"overwatch/internal/server"
	"overwatch/internal/shutdown"
)

var rootCmd = &cobra.Command{
	Use:   "ovw",
	Short: "Overwatch CLI",
	Long: `Overwatch supervises automated improvement missions against a live system.
It gates every run behind health, security and data-integrity checks, records
an immutable audit trail, scores quality across seven criteria, and can
trigger an emergency shutdown that preserves forensic evidence.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OVERWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(shutdownCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
}

// --- mission ---

func missionCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mission",
		Short: "Run and inspect missions",
		Long:  "Missions are numbered units of work executed in ordinal order. A failed mission never aborts the run; a mission whose definition is missing is skipped, not failed.",
	}
	m.AddCommand(missionRunCmd())
	m.AddCommand(missionListCmd())
	return m
}

func missionRunCmd() *cobra.Command {
	var dryRun, skipGates bool
	var missionN, maxParallel, timeoutSec, cooldownSec int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				opts := runner.Options{
					DryRun:      dryRun,
					Mission:     missionN,
					MaxParallel: a.Config.Runner.MaxParallel,
					Timeout:     time.Duration(a.Config.Runner.TimeoutSeconds) * time.Second,
					Cooldown:    time.Duration(a.Config.Runner.CooldownSeconds) * time.Second,
				}
				if cmd.Flags().Changed("max-parallel") {
					opts.MaxParallel = maxParallel
				}
				if cmd.Flags().Changed("timeout") {
					opts.Timeout = time.Duration(timeoutSec) * time.Second
				}
				if cmd.Flags().Changed("cooldown") {
					opts.Cooldown = time.Duration(cooldownSec) * time.Second
				}

				if !skipGates && !dryRun {
					if err := preflight(ctx, a); err != nil {
						return err
					}
				}

				r := runner.New(a.Workspace, a.Config, a.Repo, a.Ledger)
				summary, outcomes, err := r.Run(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"summary": summary, "outcomes": outcomes}); err != nil {
						return err
					}
				} else {
					printOutcomes(outcomes)
					fmt.Printf("passed=%d failed=%d skipped=%d total=%d\n", summary.Passed, summary.Failed, summary.Skipped, summary.Total)
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d mission(s) failed", summary.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve definitions without executing")
	cmd.Flags().IntVar(&missionN, "mission", 0, "run only the mission with this sequence")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 2, "max concurrently running missions")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 300, "per-mission timeout in seconds")
	cmd.Flags().IntVar(&cooldownSec, "cooldown", 5, "pause between waves in seconds")
	cmd.Flags().BoolVar(&skipGates, "skip-gates", false, "skip pre-flight health/security gates")
	return cmd
}

// preflight gates a run behind the tamper guard, the secret scanner and the
// health prober. Tampering and hardcoded credentials are halt-worthy safety
// violations and trigger the shutdown controller.
func preflight(ctx context.Context, a *app.App) error {
	guard := audit.NewGuard(a.Workspace)
	mismatches, err := guard.Verify()
	if err != nil {
		return fmt.Errorf("tamper check: %w", err)
	}
	if len(mismatches) > 0 {
		_ = a.Ledger.Append(audit.TagShutdown, "tamper detected | %s", strings.Join(mismatches, "; "))
		ctl := shutdown.New(a.Workspace, a.Config, a.Ledger)
		_ = ctl.Halt(ctx, fmt.Sprintf("protected file tampering: %s", strings.Join(mismatches, "; ")))
		return fmt.Errorf("protected file tampering detected")
	}

	scanner, err := secscan.New(a.Workspace, a.Config, a.Ledger)
	if err != nil {
		return err
	}
	res, err := scanner.Scan()
	if err != nil {
		return err
	}
	if len(res.Findings) > 0 {
		ctl := shutdown.New(a.Workspace, a.Config, a.Ledger)
		_ = ctl.Halt(ctx, fmt.Sprintf("hardcoded credentials: %d finding(s)", len(res.Findings)))
		return fmt.Errorf("secret scan found %d finding(s)", len(res.Findings))
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("secret scan failures: %s", strings.Join(res.Failures, "; "))
	}

	if len(a.Config.Probes) > 0 {
		prober := health.New(a.Config, a.Ledger)
		rep, err := prober.Check(ctx)
		if err != nil {
			return err
		}
		if rep.Status == domain.HealthFullyDown {
			return fmt.Errorf("pre-flight: system %s", rep.OverallLine())
		}
		if rep.Status == domain.HealthDegraded {
			fmt.Printf("warning: pre-flight health %s\n", rep.OverallLine())
		}
	}
	return nil
}

func missionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(a.Config.Missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Name", "Ref"})
				for _, m := range a.Config.Missions {
					tw.AppendRow(table.Row{m.Sequence, m.Name, m.Ref})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- health ---

func healthCmd() *cobra.Command {
	h := &cobra.Command{Use: "health", Short: "Service health checks"}
	h.AddCommand(healthCheckCmd())
	return h
}

func healthCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe all configured service endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				prober := health.New(a.Config, a.Ledger)
				rep, err := prober.Check(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(rep); err != nil {
						return err
					}
				} else {
					fmt.Print(rep.Render())
				}
				if rep.Status != domain.HealthAllHealthy {
					return fmt.Errorf("system %s", rep.OverallLine())
				}
				return nil
			})
		},
	}
	return cmd
}

// --- scan ---

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the working tree for credential-like patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				scanner, err := secscan.New(a.Workspace, a.Config, a.Ledger)
				if err != nil {
					return err
				}
				res, err := scanner.Scan()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					for _, note := range res.Corrected {
						fmt.Println("corrected:", note)
					}
					if len(res.Findings) > 0 {
						tw := table.NewWriter()
						tw.SetOutputMirror(os.Stdout)
						tw.AppendHeader(table.Row{"File", "Line", "Rule", "Text"})
						for _, f := range res.Findings {
							tw.AppendRow(table.Row{f.Path, f.Line, f.Rule, f.Text})
						}
						tw.Render()
					}
					for _, fail := range res.Failures {
						fmt.Println("failure:", fail)
					}
				}
				if !res.Clean() {
					return fmt.Errorf("scan found %d finding(s), %d failure(s)", len(res.Findings), len(res.Failures))
				}
				if !viper.GetBool("json") {
					fmt.Println("scan clean")
				}
				return nil
			})
		},
	}
	return cmd
}

// --- data ---

func dataCmd() *cobra.Command {
	d := &cobra.Command{Use: "data", Short: "Data integrity checks"}
	d.AddCommand(dataInspectCmd())
	d.AddCommand(dataChecksumCmd())
	d.AddCommand(dataRangeCmd())
	return d
}

func dataInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Fetch an endpoint and check for anomaly markers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				v := integrity.New(a.Repo, a.Ledger)
				if !v.InspectEndpoint(ctx, args[0]) {
					return fmt.Errorf("endpoint %s failed inspection", args[0])
				}
				fmt.Println("endpoint ok")
				return nil
			})
		},
	}
	return cmd
}

func dataChecksumCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "checksum <subject> [values...]",
		Short: "Track a data subject's checksum and report drift",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := args[1:]
			if file != "" {
				loaded, err := valuesFromFile(file)
				if err != nil {
					return err
				}
				values = append(values, loaded...)
			}
			if len(values) == 0 {
				return fmt.Errorf("no values given; pass them as args or via --file")
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				v := integrity.New(a.Repo, a.Ledger)
				drift, rec, err := v.Track(ctx, args[0], values)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"drift": drift, "record": rec}); err != nil {
						return err
					}
				} else if drift {
					fmt.Printf("drift detected for %s (stored %d rows at %s)\n", rec.Subject, rec.RowCount, rec.RecordedAt)
				} else {
					fmt.Printf("checksum ok for %s (%d rows)\n", rec.Subject, rec.RowCount)
				}
				if drift {
					return fmt.Errorf("checksum drift for %s", rec.Subject)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read values from file (one per line)")
	return cmd
}

func dataRangeCmd() *cobra.Command {
	var file, column string
	var minVal, maxVal float64
	var allowNull bool
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Validate a column against range/null rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" || column == "" {
				return fmt.Errorf("--file and --column required")
			}
			rows, err := rowsFromFile(file)
			if err != nil {
				return err
			}
			var b integrity.Bounds
			b.AllowNull = allowNull
			if cmd.Flags().Changed("min") {
				b.Min = &minVal
			}
			if cmd.Flags().Changed("max") {
				b.Max = &maxVal
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				v := integrity.New(a.Repo, a.Ledger)
				violations, ok := v.ValidateRange(column, rows, b)
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"ok": ok, "violations": violations}); err != nil {
						return err
					}
				} else {
					for _, viol := range violations {
						fmt.Printf("row %d: %s\n", viol.Row, viol.Reason)
					}
				}
				if !ok {
					return fmt.Errorf("%d violation(s) in column %s", len(violations), column)
				}
				if !viper.GetBool("json") {
					fmt.Printf("column %s ok (%d rows)\n", column, len(rows))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file containing an array of row objects")
	cmd.Flags().StringVar(&column, "column", "", "column to validate")
	cmd.Flags().Float64Var(&minVal, "min", 0, "minimum allowed value")
	cmd.Flags().Float64Var(&maxVal, "max", 0, "maximum allowed value")
	cmd.Flags().BoolVar(&allowNull, "allow-null", false, "allow null/missing values")
	return cmd
}

// --- score ---

func scoreCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "score",
		Short: "Quality scoring",
		Long:  "Seven weighted criteria reduce to pass, needs-fix or halt. Any criterion below 5 halts regardless of average; a halt verdict triggers the shutdown controller.",
	}
	s.AddCommand(scoreSubmitCmd())
	s.AddCommand(scoreShowCmd())
	return s
}

func scoreSubmitCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit explicit criterion scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) == 0 {
				return fmt.Errorf("at least one --set criterion=value required")
			}
			criteria := map[string]float64{}
			for _, kv := range sets {
				name, raw, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, want criterion=value", kv)
				}
				val, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("invalid value in --set %q: %w", kv, err)
				}
				criteria[strings.TrimSpace(name)] = val
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				ctl := shutdown.New(a.Workspace, a.Config, a.Ledger)
				scorer := score.New(a.Config, a.Ledger, ctl)
				rec, err := scorer.Evaluate(ctx, criteria)
				if err != nil {
					return err
				}
				return printScore(rec)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", []string{}, "criterion=value (repeatable; omit a criterion to mark it not applicable)")
	return cmd
}

func scoreShowCmd() *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Derive the score from the recent audit window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				entries, err := a.Ledger.Tail(window)
				if err != nil {
					return err
				}
				ctl := shutdown.New(a.Workspace, a.Config, a.Ledger)
				scorer := score.New(a.Config, a.Ledger, ctl)
				rec, err := scorer.FromLedger(ctx, entries)
				if err != nil {
					return err
				}
				return printScore(rec)
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 200, "number of recent audit entries to score")
	return cmd
}

func printScore(rec domain.ScoreRecord) error {
	if viper.GetBool("json") {
		return printJSON(rec)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Criterion", "Score"})
	for _, name := range []string{score.Honest, score.Reliable, score.Safe, score.Clean, score.DataCorrect, score.Usable, score.Documented} {
		if v, ok := rec.Criteria[name]; ok {
			tw.AppendRow(table.Row{name, v})
		}
	}
	tw.Render()
	fmt.Printf("average=%.2f verdict=%s\n", rec.Average, rec.Verdict)
	return nil
}

// --- shutdown ---

func shutdownCmd() *cobra.Command {
	var powerOff bool
	cmd := &cobra.Command{
		Use:   "shutdown <reason>",
		Short: "Emergency shutdown with evidence preservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				ctl := shutdown.New(a.Workspace, a.Config, a.Ledger)
				if cmd.Flags().Changed("power-off") {
					ctl.PowerOff = powerOff
				}
				rep, err := ctl.Execute(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(rep); err != nil {
						return err
					}
				} else {
					for _, s := range rep.Steps {
						status := "ok"
						if s.Err != "" {
							status = s.Err
						}
						fmt.Printf("  %-16s %s\n", s.Name, status)
					}
					fmt.Printf("final state: %s\n", rep.State)
				}
				if rep.PowerOffAttempted {
					// distinct exit status signals that power-off was reached
					os.Exit(2)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&powerOff, "power-off", false, "attempt host power-off after the grace period")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit ledger"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				entries, err := a.Ledger.Tail(n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				for _, e := range entries {
					if e.Tag == "" {
						fmt.Println(e.Message)
						continue
					}
					fmt.Printf("[%s] %s | %s\n", e.Tag, e.TS, e.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				secret := os.Getenv("OVERWATCH_JWT_SECRET")
				if secret == "" {
					return fmt.Errorf("OVERWATCH_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Watchdog: a.Config.Watchdog.ID,
					Repo:     a.Repo,
					Ledger:   a.Ledger,
					Scorer:   score.New(a.Config, a.Ledger, nil),
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Overwatch status API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configProtectCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default overwatch.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "overwatch", "watchdog id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return printJSONOrPretty(a.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and verify protected files",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err == nil {
				err = cfg.Validate()
			}
			var mismatches []string
			if err == nil {
				mismatches, err = audit.NewGuard(workspace).Verify()
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil && len(mismatches) == 0, "tampered": mismatches}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("protected files changed: %s", strings.Join(mismatches, "; "))
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configProtectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protect",
		Short: "Record tamper-detection digests for protected files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				paths := []string{config.Path(a.Workspace)}
				if f := a.Config.Scanner.CredentialsFile; f != "" {
					credPath := filepath.Join(a.Workspace, f)
					if _, err := os.Stat(credPath); err == nil {
						paths = append(paths, credPath)
					}
				}
				if err := audit.NewGuard(a.Workspace).Protect(paths...); err != nil {
					return err
				}
				_ = a.Ledger.Append(audit.TagConfig, "protected %d file(s)", len(paths))
				fmt.Printf("protected %d file(s)\n", len(paths))
				return nil
			})
		},
	}
	return cmd
}

// --- status ---

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				run, err := a.Repo.LatestRun(ctx)
				if err != nil {
					return err
				}
				outcomes, err := a.Repo.ListOutcomes(ctx, run.RunID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "outcomes": outcomes})
				}
				fmt.Printf("Run %s started %s\n", run.RunID, run.StartedAt)
				printOutcomes(outcomes)
				fmt.Printf("passed=%d failed=%d skipped=%d total=%d\n", run.Passed, run.Failed, run.Skipped, run.Total)
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func withApp(fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func printOutcomes(outcomes []domain.MissionOutcome) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Seq", "Mission", "Status", "Signal", "Detail"})
	for _, o := range outcomes {
		tw.AppendRow(table.Row{o.Sequence, o.Name, o.Status, o.Signal, o.Detail})
	}
	tw.Render()
}

func printJSONOrPretty(v any) error {
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

func valuesFromFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, line := range strings.Split(string(data), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			values = append(values, s)
		}
	}
	return values, nil
}

func rowsFromFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}
