package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opsgrid/sentinel/internal/config"
	"github.com/opsgrid/sentinel/internal/metrics"
	"github.com/opsgrid/sentinel/internal/notify"
	"github.com/opsgrid/sentinel/internal/version"
	"github.com/opsgrid/sentinel/internal/watch"
	"github.com/opsgrid/sentinel/pkg/baseline"
	"github.com/opsgrid/sentinel/pkg/drift"
	"github.com/opsgrid/sentinel/pkg/fingerprint"
)

// Exit codes.
const (
	exitOK       = 0
	exitWarnings = 1
	exitCritical = 2
	exitError    = 3
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.WarnLevel)

	app := &app{log: log}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(app.exitCode)
}

// app carries shared CLI state: resolved config and the final exit code.
type app struct {
	log      *logrus.Logger
	cfg      config.Config
	exitCode int
	metrics  *metrics.Metrics

	// flags
	configFile string
	quick      bool
	network    bool
	watchMode  bool
	interval   int
	verbose    bool
	baseline   string
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sentinel [config_files...]",
		Short:   "Semantic host observability: fingerprint capture and drift detection",
		Version: version.Version,
		Args:    cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.watchMode {
				return a.runWatch(cmd.Context(), a.captureCycle)
			}
			a.exitCode = a.captureCycle(cmd.Context())
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "YAML config file")
	pf.BoolVarP(&a.network, "network", "n", false, "include network probe (listeners, connections)")
	pf.BoolVarP(&a.watchMode, "watch", "w", false, "continuous monitoring mode")
	pf.IntVarP(&a.interval, "interval", "i", 0, "seconds between probes in watch mode")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")
	pf.StringVarP(&a.baseline, "baseline", "b", "", "baseline file path")

	cmd.Flags().BoolVarP(&a.quick, "quick", "q", false, "only show quick analysis summary")

	cmd.AddCommand(a.learnCmd(), a.checkCmd())
	return cmd
}

// setup resolves the effective config from file, env and flags.
func (a *app) setup(args []string) error {
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	if a.configFile != "" {
		cfg, err := config.Load(a.configFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Default()
	}

	if len(args) > 0 {
		a.cfg.ConfigPaths = args
	}
	if a.network {
		a.cfg.IncludeNetwork = true
	}
	if a.baseline != "" {
		a.cfg.BaselinePath = a.baseline
	}
	if a.interval > 0 {
		a.cfg.WatchInterval = clampIntervalSeconds(a.interval)
	}
	return nil
}

func (a *app) learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn",
		Short: "Fold the current fingerprint into the baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := a.capture()
			store := baseline.NewStore(a.cfg.BaselinePath, a.log)
			b, err := store.Learn(&fp)
			if err != nil {
				return fmt.Errorf("learn baseline: %w", err)
			}
			fmt.Printf("Baseline updated: %d sample(s), %d expected port(s), %d tracked config(s)\n",
				b.Samples, len(b.ExpectedPorts), len(b.ConfigDigests))
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the current fingerprint against the baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.watchMode {
				return a.runWatch(cmd.Context(), a.checkCycle)
			}
			code, err := a.checkOnce(cmd.Context())
			if err != nil {
				return err
			}
			a.exitCode = code
			return nil
		},
	}
}

// captureCycle runs one capture, renders it, and returns the exit code from
// quick-analysis severity.
func (a *app) captureCycle(ctx context.Context) int {
	fp := a.capture()
	analysis := fingerprint.Analyze(&fp, a.cfg.Thresholds)

	if a.quick {
		printQuick(&fp, analysis, a.cfg.IncludeNetwork)
	} else {
		if err := renderJSON(fp); err != nil {
			a.log.WithError(err).Error("Failed to render fingerprint")
			return exitError
		}
	}
	return exitCodeFor(analysis)
}

// checkOnce captures, compares against the baseline, and renders the report.
func (a *app) checkOnce(ctx context.Context) (int, error) {
	fp := a.capture()

	store := baseline.NewStore(a.cfg.BaselinePath, a.log)
	b, err := store.Load()
	if err != nil {
		if errors.Is(err, baseline.ErrNotFound) {
			return 0, fmt.Errorf("no baseline at %s; run 'sentinel learn' first", a.cfg.BaselinePath)
		}
		return 0, err
	}

	report := drift.Compare(b, &fp)
	if a.metrics != nil {
		for _, f := range report.Findings {
			a.metrics.Deviations.WithLabelValues(string(f.Kind)).Inc()
		}
	}
	if err := renderJSON(report); err != nil {
		return 0, fmt.Errorf("render deviation report: %w", err)
	}

	if a.cfg.NotifyEndpoint != "" {
		n := notify.New(a.cfg.NotifyEndpoint, a.log)
		if err := n.Send(ctx, fp.System.Hostname, report); err != nil {
			a.log.WithError(err).Warn("Failed to deliver deviation report")
		}
	}

	if !report.Empty() {
		return exitCritical, nil
	}
	return exitCodeFor(fingerprint.Analyze(&fp, a.cfg.Thresholds)), nil
}

// checkCycle adapts checkOnce for the watch loop.
func (a *app) checkCycle(ctx context.Context) int {
	code, err := a.checkOnce(ctx)
	if err != nil {
		a.log.WithError(err).Error("Check failed")
		return exitError
	}
	return code
}

// runWatch runs cycle under the watch loop, with optional metrics serving.
func (a *app) runWatch(ctx context.Context, cycle watch.Cycle) error {
	if a.cfg.MetricsAddr != "" {
		a.metrics = metrics.New()
		go a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.log)
	}

	instrumented := cycle
	if a.metrics != nil {
		instrumented = func(ctx context.Context) int {
			code := cycle(ctx)
			a.metrics.CyclesTotal.Inc()
			return code
		}
	}

	loop, err := watch.New(watch.Config{
		Interval:   a.cfg.WatchInterval,
		WatchPaths: a.cfg.ConfigPaths,
	}, instrumented, a.log)
	if err != nil {
		return fmt.Errorf("start watch mode: %w", err)
	}

	a.exitCode = loop.Run(ctx)
	return nil
}

func (a *app) capture() fingerprint.Fingerprint {
	assembler := fingerprint.NewAssembler(fingerprint.Options{
		ConfigPaths:    a.cfg.ConfigPaths,
		IncludeNetwork: a.cfg.IncludeNetwork,
	}, a.log)
	fp := assembler.Capture()
	if a.metrics != nil {
		a.metrics.ProbeFailures.Add(float64(fp.ProbeFailures))
	}
	return fp
}

// exitCodeFor maps quick-analysis severity to a process exit code.
func exitCodeFor(a fingerprint.Analysis) int {
	switch {
	case a.ZombieProcesses > 0 || a.ConfigPermissionIssues > 0 || a.UnusualListeners > 3:
		return exitCritical
	case a.HighFDProcesses > 5 || a.UnusualListeners > 0:
		return exitWarnings
	default:
		return exitOK
	}
}

func renderJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printQuick renders the human-readable summary.
func printQuick(fp *fingerprint.Fingerprint, a fingerprint.Analysis, network bool) {
	fmt.Println("Sentinel Quick Analysis")
	fmt.Println("=======================")
	fmt.Printf("Hostname: %s\n", fp.System.Hostname)
	fmt.Printf("Uptime: %.1f days\n", fp.System.UptimeSeconds/86400.0)
	fmt.Printf("Load: %.2f %.2f %.2f\n", fp.System.LoadAvg[0], fp.System.LoadAvg[1], fp.System.LoadAvg[2])
	fmt.Printf("Memory: %.1f%% used\n", fp.System.MemoryUsedPercent())
	fmt.Printf("Processes: %d total\n", len(fp.Processes))

	fmt.Println("\nPotential Issues:")
	fmt.Printf("  Zombie processes: %d\n", a.ZombieProcesses)
	fmt.Printf("  High FD processes: %d\n", a.HighFDProcesses)
	fmt.Printf("  Long-running (>7d): %d\n", a.LongRunning)
	fmt.Printf("  Stuck (disk-wait): %d\n", a.StuckProcesses)
	fmt.Printf("  High-memory (>1GiB): %d\n", a.HighMemoryProcesses)
	fmt.Printf("  Config permission issues: %d\n", a.ConfigPermissionIssues)

	if network {
		fmt.Println("\nNetwork:")
		fmt.Printf("  Listening ports: %d\n", len(fp.Listeners))
		fmt.Printf("  Established connections: %d\n", len(fp.Connections))
		fmt.Printf("  Unusual ports: %d\n", a.UnusualListeners)

		if len(fp.Listeners) > 0 {
			fmt.Println("\n  Listeners:")
			for i, l := range fp.Listeners {
				if i >= 10 {
					fmt.Printf("    ... and %d more\n", len(fp.Listeners)-10)
					break
				}
				fmt.Printf("    %s:%d (%s) - %s\n", l.LocalAddr, l.LocalPort, l.Protocol, l.ProcessName)
			}
		}
	}
}

// clampIntervalSeconds bounds the watch interval to [1s, 24h].
func clampIntervalSeconds(secs int) time.Duration {
	if secs < 1 {
		secs = 1
	}
	if secs > 86400 {
		secs = 86400
	}
	return time.Duration(secs) * time.Second
}
