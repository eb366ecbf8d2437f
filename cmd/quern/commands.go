package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/quern/internal/builtin"
	"github.com/mattjoyce/quern/internal/dispatch"
	"github.com/mattjoyce/quern/internal/doctor"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/lock"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/scheduler"
)

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	frontend := fs.String("frontend", "", "Frontend plugin id (overrides config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("quern starting", "version", version, "config", path)

	lockPath := lock.PathFor(cfg.State.Path)
	instance, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock", "path", lockPath, "error", err)
		return 1
	}
	defer instance.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var a *app
	a, err = newApp(ctx, cfg, builtin.Controls{
		Quit:          cancel,
		ReloadPlugins: func() { go a.provider.ReloadEnabledPlugins() },
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.Close()

	sched := scheduler.New(cfg, a.history, a.hub, logger)
	sched.OnPruned = func(ctx context.Context) {
		if err := a.scores.Recompute(ctx, a.history); err != nil {
			logger.Warn("failed to recompute scores after prune", "error", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("maintenance failed", "error", err)
		return 1
	}
	defer sched.Stop()

	a.provider.ReloadEnabledPlugins()

	id := *frontend
	if id == "" {
		id = cfg.Frontend
	}
	f, err := a.provider.SelectFrontend(id)
	if err != nil {
		logger.Error("no usable frontend", "configured", id, "error", err)
		return 1
	}
	logger.Info("frontend selected", "frontend", f.ID())

	if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("frontend failed", "frontend", f.ID(), "error", err)
		return 1
	}
	logger.Info("quern stopped")
	return 0
}

// openForTool loads config and wires the app for one-shot commands.
func openForTool(configPath string) (*app, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return newApp(context.Background(), cfg, builtin.Controls{})
}

func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 10, "Maximum rows to print (0 for all)")
	timeout := fs.Duration("timeout", 5*time.Second, "How long to wait for handlers")
	activate := fs.Int("activate", -1, "Activate the first action of this row")
	jsonOut := fs.Bool("json", false, "Output rows as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	input := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(input) == "" {
		fmt.Fprintln(os.Stderr, "Usage: quern query [flags] <text...>")
		return 1
	}

	a, err := openForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer a.Close()
	a.provider.ReloadEnabledPlugins()

	a.session.SetupSession()
	e := a.session.StartQuery(input)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	waitErr := dispatch.Wait(ctx, e)
	cancel()
	if waitErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: query still running after %s, showing partial results\n", *timeout)
	}

	rows := e.Rows()
	if *limit > 0 && len(rows) > *limit {
		rows = rows[:*limit]
	}

	code := 0
	if *jsonOut {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(data))
	} else {
		printRows(rows, e.Fallbacks(), e.FallbackLabel())
	}

	if *activate >= 0 {
		if !e.Activate(*activate, 0) {
			fmt.Fprintf(os.Stderr, "Row %d cannot be activated\n", *activate)
			code = 1
		}
	}

	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	if err := a.session.TeardownSession(tctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save session: %v\n", err)
		return 1
	}
	return code
}

func printRows(rows, fallbacks []query.Row, fallbackLabel string) {
	if len(rows) == 0 {
		if len(fallbacks) > 0 {
			fmt.Println(fallbackLabel)
		} else {
			fmt.Println("No results")
		}
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tTEXT\tSUBTEXT\tACTION\tSCORE")
	for i, r := range rows {
		text := r.Text
		if r.Urgency != item.UrgencyNormal.String() {
			text = fmt.Sprintf("%s [%s]", text, r.Urgency)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", i, text, r.Subtext, r.Action, r.Score)
	}
	_ = w.Flush()
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	a, err := openForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	infos := a.provider.Describe()
	slices.SortFunc(infos, func(x, y extension.PluginInfo) int { return strings.Compare(x.ID, y.ID) })

	if *jsonOut {
		data, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tLOAD\tENABLED\tSTATE\tCHECKSUM")
	for _, p := range infos {
		sum := p.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", p.ID, p.Name, p.Version, p.LoadType, p.Enabled, p.State, sum)
	}
	_ = w.Flush()

	for _, p := range infos {
		if p.Reason != "" {
			fmt.Printf("  %s: %s\n", p.ID, p.Reason)
		}
	}
	return 0
}

func runPluginToggle(args []string, enabled bool) int {
	fs := flag.NewFlagSet("toggle", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")

	// The id may come before or after the flags.
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	var id string
	if rest := fs.Args(); len(rest) > 0 {
		id = rest[0]
		if err := fs.Parse(rest[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
			return 1
		}
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: quern plugin enable|disable <id> [--config PATH]")
		return 1
	}

	a, err := openForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := a.provider.SetEnabled(id, enabled); err != nil {
		switch {
		case errors.Is(err, plugin.ErrPluginNotFound), errors.Is(err, plugin.ErrInvalidPlugin):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		default:
			// The preference is stored even when the load fails.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	word := "disabled"
	if enabled {
		word = "enabled"
	}
	fmt.Printf("Plugin %s %s\n", id, word)
	return 0
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	days := fs.Int("days", 7, "Number of days to chart")
	recent := fs.Int("recent", 5, "Number of recent queries to list")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	a, err := openForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx := context.Background()
	perDay, err := a.history.ActivationsPerDay(ctx, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	peak := 0
	for _, d := range perDay {
		peak = max(peak, d.Count)
	}
	fmt.Printf("Activations (last %d days)\n", *days)
	for _, d := range perDay {
		bar := 0
		if peak > 0 {
			bar = d.Count * 40 / peak
		}
		fmt.Printf("  %s  %4d  %s\n", d.Day.Format("2006-01-02"), d.Count, strings.Repeat("█", bar))
	}

	runtimes, err := a.history.HandlerRuntimes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(runtimes) > 0 {
		fmt.Println("\nHandler runtimes")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  HANDLER\tRUNS\tAVERAGE")
		for _, r := range runtimes {
			fmt.Fprintf(w, "  %s\t%d\t%s\n", r.Handler, r.Executions, r.Average)
		}
		_ = w.Flush()
	}

	if *recent > 0 {
		records, err := a.history.Recent(ctx, *recent)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if len(records) > 0 {
			fmt.Println("\nRecent queries")
			for _, r := range records {
				line := fmt.Sprintf("  %s  %q", r.Timestamp.Format(time.DateTime), r.Input)
				if r.Cancelled {
					line += " (cancelled)"
				}
				if r.ActivatedItem != "" {
					line += " → " + r.ActivatedItem
				}
				fmt.Println(line)
			}
		}
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report in structured JSON format")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}
	if path == "" {
		path = "(defaults)"
	}

	specs, err := discoverSpecs(cfg, func(string, string, ...any) {})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}
	result := doctor.New(cfg, specs).Validate()
	failed := !result.Valid || (*strict && len(result.Warnings) > 0)

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			return 1
		}
		fmt.Println(out)
		if failed {
			return 1
		}
		return 0
	}

	if failed {
		fmt.Printf("Configuration check FAILED: %s\n", path)
	} else {
		fmt.Printf("Configuration OK: %s\n", path)
	}
	for _, f := range cfg.SourceFiles[min(1, len(cfg.SourceFiles)):] {
		fmt.Printf("  include: %s\n", f)
	}
	fmt.Printf("  state:     %s\n", cfg.State.Path)
	fmt.Printf("  plugins:   %s (%d discovered)\n", strings.Join(cfg.PluginDirs, ", "), len(specs))
	if cfg.Frontend != "" {
		fmt.Printf("  frontend:  %s\n", cfg.Frontend)
	}
	fmt.Print(doctor.FormatHuman(result))
	if failed {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if cfg.API.Token != "" {
		cfg.API.Token = "********"
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}
