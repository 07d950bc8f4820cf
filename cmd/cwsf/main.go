// cmd/cwsf/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"syscall"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/fetch"
	"github.com/cwsf/cwsf/internal/history"
	"github.com/cwsf/cwsf/internal/monitoring"
	"github.com/cwsf/cwsf/internal/notify"
	"github.com/cwsf/cwsf/internal/obslog"
	"github.com/cwsf/cwsf/internal/orchestrator"
	"github.com/cwsf/cwsf/internal/ratelimit"
	"github.com/cwsf/cwsf/internal/scrape"
	"github.com/cwsf/cwsf/internal/sink"
)

// Global flags, stripped out of os.Args before command dispatch.
var (
	verbose   bool
	quiet     bool
	configDir = "./configs"
)

var baseURLPattern = regexp.MustCompile(`(?i)^https?://`)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	args = parseGlobalFlags(args)
	if verbose && quiet {
		fmt.Fprintln(os.Stderr, "Error: --verbose and --quiet are mutually exclusive")
		os.Exit(2)
	}

	if len(args) == 0 {
		printUsage()
		return
	}

	command := args[0]
	commandArgs := args[1:]

	if command == "help" || command == "--help" || command == "-h" {
		printUsage()
		return
	}
	if command == "version" {
		printVersion()
		return
	}

	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: config directory %q does not exist or is not a directory\n", configDir)
		os.Exit(1)
	}

	logger := obslog.NewWithLevel(logLevel())

	switch command {
	case "validate":
		os.Exit(cmdValidate(commandArgs))
	case "list":
		os.Exit(cmdList())
	case "run":
		os.Exit(cmdRun(commandArgs, logger))
	case "status":
		os.Exit(cmdStatus(commandArgs))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

// parseGlobalFlags strips recognized global flags out of args, wherever
// they appear, returning the remaining command and its arguments.
func parseGlobalFlags(args []string) []string {
	var remaining []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-v", "--verbose":
			verbose = true
		case "-q", "--quiet":
			quiet = true
		case "--config-dir":
			if i+1 < len(args) {
				configDir = args[i+1]
				i++
			}
		default:
			remaining = append(remaining, args[i])
		}
	}
	return remaining
}

// logLevel resolves the logger's default level from CWSF_LOG_LEVEL, then
// lets --verbose/--quiet override it.
func logLevel() obslog.Level {
	level := obslog.ParseLevel(os.Getenv("CWSF_LOG_LEVEL"))
	if verbose {
		level = obslog.DebugLevel
	}
	if quiet {
		level = obslog.ErrorLevel
	}
	return level
}

func printUsage() {
	fmt.Println("cwsf - configuration-driven web scraping framework")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  cwsf [global-options] <command> [arguments]")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  -v, --verbose         Increase log output to DEBUG level")
	fmt.Println("  -q, --quiet           Suppress all output except errors")
	fmt.Println("  --config-dir PATH     Path to the configuration directory (default ./configs)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  validate --all | --site NAME   Validate discovered config(s)")
	fmt.Println("  list                           List discovered configs and their status")
	fmt.Println("  run [--site NAME] [--base-url URL]  Scan and scrape once")
	fmt.Println("  status [--site NAME]           Show run-history results")
	fmt.Println("  version                        Show version information")
	fmt.Println("  help                           Show this help message")
}

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func printVersion() {
	fmt.Printf("cwsf %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}

// cmdValidate implements `validate --all|--site NAME`, exiting 0 iff every
// validated config is valid (and, for --site, the named site exists).
func cmdValidate(args []string) int {
	all := false
	site := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--all":
			all = true
		case "--site":
			if i+1 < len(args) {
				site = args[i+1]
				i++
			}
		}
	}
	if !all && site == "" {
		fmt.Fprintln(os.Stderr, "Error: must specify either --all or --site NAME")
		return 2
	}
	if all && site != "" {
		fmt.Fprintln(os.Stderr, "Error: --all and --site are mutually exclusive")
		return 2
	}

	paths, err := config.Discover(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Printf("No configuration files found in %s\n", configDir)
		return 0
	}

	validCount, totalCount, found := 0, 0, false
	for _, path := range paths {
		cfg, raw, err := config.LoadDocument(path, nil)
		if err != nil {
			if all {
				totalCount++
				fmt.Printf("x %s\n  - Parse Error: %v\n", path, err)
			}
			continue
		}
		if site != "" && cfg.SiteName != site {
			continue
		}
		found = true
		totalCount++

		result := config.Validate(cfg, raw)
		if result.IsValid {
			validCount++
			fmt.Printf("+ %s (%s)\n", cfg.SiteName, path)
		} else {
			fmt.Printf("x %s (%s)\n", cfg.SiteName, path)
			for _, e := range result.Errors {
				fmt.Printf("  - Error: %s: %s\n", e.Field, e.Message)
			}
			for _, w := range result.Warnings {
				fmt.Printf("  - Warning: %s: %s\n", w.Field, w.Message)
			}
		}
		if site != "" {
			break
		}
	}

	if site != "" {
		if !found {
			fmt.Fprintf(os.Stderr, "Error: no configuration found for site %q\n", site)
			return 1
		}
		if validCount == 0 {
			return 1
		}
		return 0
	}

	fmt.Printf("\nSummary: %d of %d configs valid\n", validCount, totalCount)
	if validCount < totalCount {
		return 1
	}
	return 0
}

// cmdList implements `list`, exiting 0 unless the config directory cannot
// be scanned.
func cmdList() int {
	paths, err := config.Discover(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Printf("No configuration files found in %s\n", configDir)
		return 0
	}

	type row struct{ site, file, status, schedule, priority string }
	var rows []row
	for _, path := range paths {
		file := path
		cfg, raw, err := config.LoadDocument(path, nil)
		if err != nil {
			rows = append(rows, row{site: file, file: file, status: "error", schedule: "-", priority: "-"})
			continue
		}
		result := config.Validate(cfg, raw)
		status := "valid"
		if !result.IsValid {
			status = "invalid"
		}
		schedule := "-"
		if cfg.RateLimit.DelaySeconds > 0 {
			schedule = fmt.Sprintf("every %.1fs", cfg.RateLimit.DelaySeconds)
		}
		priority := "default"
		if cfg.Priority > 0 {
			priority = fmt.Sprintf("%d", cfg.Priority)
		}
		rows = append(rows, row{site: cfg.SiteName, file: file, status: status, schedule: schedule, priority: priority})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].site < rows[j].site })

	headers := []string{"Site Name", "File", "Status", "Schedule", "Priority"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		cells := []string{r.site, r.file, r.status, r.schedule, r.priority}
		for i, c := range cells {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	printRow := func(cells []string) {
		for i, c := range cells {
			fmt.Printf("%-*s  ", widths[i], c)
		}
		fmt.Println()
	}
	printRow(headers)
	for _, r := range rows {
		printRow([]string{r.site, r.file, r.status, r.schedule, r.priority})
	}
	return 0
}

// cmdRun implements `run [--site NAME] [--base-url URL]`: a one-shot scan
// and scrape, exiting non-zero iff any site failed. The orchestrator also
// exposes RunContinuous for embedders that want the watcher-driven
// forever loop; this CLI surface only ever drives it one-shot.
func cmdRun(args []string, logger obslog.Logger) int {
	site := ""
	baseURL := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--site":
			if i+1 < len(args) {
				site = args[i+1]
				i++
			}
		case "--base-url":
			if i+1 < len(args) {
				baseURL = args[i+1]
				i++
			}
		}
	}
	if baseURL != "" && !baseURLPattern.MatchString(baseURL) {
		fmt.Fprintf(os.Stderr, "Error: --base-url %q does not look like a valid URL\n", baseURL)
		return 2
	}
	var overrides map[string]interface{}
	if baseURL != "" {
		overrides = map[string]interface{}{"base_url": baseURL}
	}

	plain, err := fetch.NewPlainFetcher(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	rendered := fetch.NewRenderedFetcher(logger)
	defer rendered.Close()

	historyStore, err := history.Open(history.DefaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer historyStore.Close()

	pipeline := scrape.New(plain, rendered, ratelimit.NewRegistry(logger), sink.NewRegistry(), logger)
	orch := orchestrator.New(configDir, overrides, 0, pipeline, historyStore, logger)
	orch.SetNotifier(notify.New(defaultGotify(), logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CWSF_METRICS_ADDR opts into the Prometheus/health HTTP surface for
	// the duration of the run.
	if addr := os.Getenv("CWSF_METRICS_ADDR"); addr != "" {
		orch.SetMetrics(monitoring.NewMetrics("", ""))
		health := monitoring.NewHealthManager()
		health.RegisterCheck("run_history", monitoring.DatabaseCheck(historyStore.DB()))
		srv := monitoring.NewServer(addr, health)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Warnf("metrics server: %v", err)
			}
		}()
	}

	var summary orchestrator.Summary
	if site != "" {
		summary, err = orch.RunSite(ctx, site)
	} else {
		summary, err = orch.RunOnce(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Sites: %d total, %d succeeded, %d failed\n", summary.TotalSites, summary.SitesSucceeded, summary.SitesFailed)
	fmt.Printf("Records: %d, Errors: %d, Duration: %s\n", summary.TotalRecords, summary.TotalErrors, summary.Duration)
	if summary.SitesFailed > 0 {
		return 1
	}
	return 0
}

// cmdStatus implements `status [--site NAME]`, exiting 0 unless the run
// history cannot be read.
func cmdStatus(args []string) int {
	site := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--site" && i+1 < len(args) {
			site = args[i+1]
			i++
		}
	}

	store, err := history.Open(history.DefaultPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if site != "" {
		runs, err := store.SiteHistory(site, 5)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if len(runs) == 0 {
			fmt.Printf("No run history found for site %q.\n", site)
			return 0
		}
		fmt.Printf("Status for site: %s\n", site)
		fmt.Println("----------------------------------------")
		for _, r := range runs {
			fmt.Printf("Run at: %s\n", r.Timestamp.Format("2006-01-02T15:04:05Z"))
			fmt.Printf("Status: %s\n", r.Status)
			fmt.Printf("Records: %d\n", r.RecordsCount)
			fmt.Printf("Errors: %d\n", r.ErrorCount)
			if r.LastError != "" {
				fmt.Printf("Last Error: %s\n", r.LastError)
			}
			fmt.Println("--------------------")
		}
		return 0
	}

	runs, err := store.LastRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No run history found. Execute `cwsf run` to begin scraping.")
		return 0
	}

	headers := []string{"Site Name", "Last Run", "Records", "Status", "Errors"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	type cells = []string
	rows := make([]cells, 0, len(runs))
	for _, r := range runs {
		row := cells{r.SiteName, r.Timestamp.Format("2006-01-02T15:04:05Z"), fmt.Sprintf("%d", r.RecordsCount), string(r.Status), fmt.Sprintf("%d", r.ErrorCount)}
		for i, c := range row {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
		rows = append(rows, row)
	}
	printRow := func(row []string) {
		for i, c := range row {
			fmt.Printf("%-*s  ", widths[i], c)
		}
		fmt.Println()
	}
	printRow(headers)
	for _, row := range rows {
		printRow(row)
	}
	return 0
}

// defaultGotify reads a process-wide Gotify target from the environment;
// leaving both unset disables push notifications, matching the per-site
// override in internal/orchestrator.
func defaultGotify() config.GotifyConfig {
	return config.GotifyConfig{
		ServerURL: os.Getenv("CWSF_GOTIFY_URL"),
		AppToken:  os.Getenv("CWSF_GOTIFY_TOKEN"),
	}
}
