package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmoravec/querypilot/internal/checkpoint"
	"github.com/kmoravec/querypilot/internal/config"
	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/internal/driver/drivertest"
	"github.com/kmoravec/querypilot/internal/metrics"
	"github.com/kmoravec/querypilot/internal/orchestrator"
	"github.com/kmoravec/querypilot/internal/pager"
	"github.com/kmoravec/querypilot/internal/report"
	"github.com/kmoravec/querypilot/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	simulate   bool
	pairsCSV   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "querypilot",
		Short: "QueryPilot - Resumable portal batch automation",
		Long: `QueryPilot automates long-running batch workflows against a remote
query portal: submitting queries per country, rescanning the suspended-queries
grid, and reprocessing exported pairs. Every run is resumable; completed items
are checkpointed and never re-attempted.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit every configured query for every configured country",
		Long: `Run the known-list workflow: build one work item per query/country
pair, skip everything already in the checkpoint ledger, and process the rest
across as many portal sessions as needed.`,
		RunE: runPairs,
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the suspended-queries grid page by page",
		Long: `Walk the portal's suspended-queries grid from the checkpointed page,
discover pending rows, and process each one. The scan finishes when the end
of the list is reached with nothing left pending.`,
		RunE: runScan,
	}

	reprocessCmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Reprocess pairs from a suspended-queries CSV export",
		RunE:  runReprocess,
	}
	reprocessCmd.Flags().StringVar(&pairsCSV, "pairs", "", "Path to the pairs CSV (overrides run.pairs_csv)")

	for _, cmd := range []*cobra.Command{runCmd, scanCmd, reprocessCmd} {
		cmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
		cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
		cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
		cmd.Flags().BoolVar(&simulate, "simulate", false, "Use the in-memory simulated portal")
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoint ledgers",
		Long:  "Inspect the durable per-task ledgers that make runs resumable",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all checkpoint ledgers",
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <task>",
		Short: "Inspect one task's checkpoint ledger",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	for _, cmd := range []*cobra.Command{listCmd, inspectCmd} {
		cmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds everything a workflow command needs after setup.
type env struct {
	cfg       *config.Config
	creds     driver.Credentials
	runDir    *report.RunDir
	logger    *slog.Logger
	logFile   *os.File
	collector *metrics.Collector
	throttle  *driver.Throttle
	backend   *backend
}

func (e *env) close() {
	if e.logFile != nil {
		_ = e.logFile.Sync()
		_ = e.logFile.Close()
	}
}

// backend bundles the four driver ports one automation implementation
// provides.
type backend struct {
	drv  driver.Driver
	auth driver.Authenticator
	work driver.UnitOfWork
	grid driver.Grid
}

func setup() (*env, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		if !simulate && cfg.Portal.Driver != "sim" {
			return nil, err
		}
		// The simulated portal accepts anything.
		creds = driver.Credentials{Email: "sim@example.com", Password: "sim"}
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	runDir, err := report.NewRunDir(cfg.Output.Dir, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logger, logFile, err := report.SetupLogger(runDir, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	logger.Info("QueryPilot starting",
		"version", Version,
		"config", configPath,
		"run_dir", runDir.Dir())

	if err := runDir.BackupConfig(configPath); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to backup config: %w", err)
	}

	be, err := newBackend(cfg)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	return &env{
		cfg:       cfg,
		creds:     creds,
		runDir:    runDir,
		logger:    logger,
		logFile:   logFile,
		collector: metrics.NewCollector(),
		throttle:  driver.NewThrottle(cfg.Portal.ItemsPerMinute),
		backend:   be,
	}, nil
}

func newBackend(cfg *config.Config) (*backend, error) {
	name := cfg.Portal.Driver
	if simulate {
		name = "sim"
	}
	switch name {
	case "sim":
		sim := drivertest.New(drivertest.Script{})
		return &backend{drv: sim, auth: sim, work: sim, grid: sim}, nil
	default:
		return nil, fmt.Errorf("unknown portal driver %q (only \"sim\" is built in)", name)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPairs(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	authBackoff := time.Duration(e.cfg.Portal.AuthBackoffSeconds) * time.Second
	var firstErr error

	for _, query := range e.cfg.Run.Queries {
		items := buildRunItems(query, e.cfg.Run.Countries)

		rep, err := runTask(ctx, e, query, items, authBackoff)
		if rep != nil {
			if werr := e.runDir.WriteReport(query, rep); werr != nil {
				e.logger.Error("Failed to write run report", "task", query, "error", werr)
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				e.logger.Warn("Run interrupted, progress is checkpointed",
					"task", query,
					"resume_command", "re-run the same command to pick up where it stopped")
				return fmt.Errorf("run interrupted (re-run to resume)")
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("task %s: %w", query, err)
			}
			e.logger.Error("Task did not finish cleanly", "task", query, "error", err)
			continue
		}
	}

	if firstErr != nil {
		return firstErr
	}
	e.logger.Info("All queries complete")
	return nil
}

func runTask(ctx context.Context, e *env, task string, items []models.WorkItem, authBackoff time.Duration) (*models.RunReport, error) {
	store, err := checkpoint.Open(e.cfg.Checkpoint.Dir, task, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			e.logger.Error("Failed to close checkpoint store", "task", task, "error", cerr)
		}
	}()

	runner := orchestrator.NewSessionRunner(
		e.backend.drv, e.backend.auth, e.backend.work,
		e.creds, e.throttle, store, e.collector,
		e.cfg.Run.ShowProgress, e.logger)

	orch := orchestrator.New(task, runner, store, e.collector, e.runDir,
		e.cfg.Run.StagnationThreshold, authBackoff, e.logger)

	return orch.Run(ctx, items)
}

func runReprocess(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	csvPath := pairsCSV
	if csvPath == "" {
		csvPath = e.cfg.Run.PairsCSV
	}
	if csvPath == "" {
		return fmt.Errorf("no pairs CSV given (set --pairs or run.pairs_csv)")
	}

	items, err := config.LoadPairs(csvPath)
	if err != nil {
		return err
	}
	e.logger.Info("Loaded pairs for reprocessing", "file", csvPath, "pairs", len(items))

	ctx, stop := signalContext()
	defer stop()

	authBackoff := time.Duration(e.cfg.Portal.AuthBackoffSeconds) * time.Second
	rep, err := runTask(ctx, e, "reprocess", items, authBackoff)
	if rep != nil {
		if werr := e.runDir.WriteReport("reprocess", rep); werr != nil {
			e.logger.Error("Failed to write run report", "error", werr)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("reprocess interrupted (re-run to resume)")
		}
		return fmt.Errorf("reprocess failed: %w", err)
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := checkpoint.Open(e.cfg.Checkpoint.Dir, "scan", e.logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			e.logger.Error("Failed to close checkpoint store", "error", cerr)
		}
	}()

	nav := pager.NewNavigator(e.backend.grid, e.logger, e.collector,
		e.cfg.Scan.PagerMaxAttempts,
		time.Duration(e.cfg.Scan.PagerWaitSeconds)*time.Second)

	authBackoff := time.Duration(e.cfg.Portal.AuthBackoffSeconds) * time.Second
	scanner := orchestrator.NewScanner("scan",
		e.backend.drv, e.backend.auth, e.backend.work, e.backend.grid, nav,
		e.creds, e.throttle, store, e.collector, e.runDir,
		e.cfg.Run.StagnationThreshold, authBackoff, e.logger)

	ctx, stop := signalContext()
	defer stop()

	rep, err := scanner.Run(ctx)
	if rep != nil {
		if werr := e.runDir.WriteReport("scan", rep); werr != nil {
			e.logger.Error("Failed to write run report", "error", werr)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan interrupted (re-run to resume from the saved page)")
		}
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// buildRunItems expands one query into a work item per configured country,
// in stable ISO3 order.
func buildRunItems(query string, countries map[string]string) []models.WorkItem {
	codes := make([]string, 0, len(countries))
	for iso3 := range countries {
		codes = append(codes, iso3)
	}
	sort.Strings(codes)

	items := make([]models.WorkItem, 0, len(codes))
	for _, iso3 := range codes {
		items = append(items, models.WorkItem{
			ID:      models.PairID(query, iso3),
			Payload: countries[iso3],
		})
	}
	return items
}

// listCheckpoints prints every task ledger and its completed count.
func listCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	names, err := checkpoint.List(cfg.Checkpoint.Dir)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No checkpoint ledgers found. Run a workflow first.")
		return nil
	}

	fmt.Println("Checkpoint ledgers:")
	fmt.Println()
	fmt.Printf("%-25s %-12s %s\n", "TASK", "DONE", "LAST PAGE")
	fmt.Println(strings.Repeat("-", 50))

	for _, name := range names {
		store, err := checkpoint.Open(cfg.Checkpoint.Dir, name, slog.Default())
		if err != nil {
			fmt.Printf("%-25s (unreadable: %v)\n", name, err)
			continue
		}
		_, page := store.Load()
		fmt.Printf("%-25s %-12d %d\n", name, store.DoneCount(), page)
		_ = store.Close()
	}
	return nil
}

// inspectCheckpoint prints one ledger's details, including every done id.
func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	task := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := checkpoint.Open(cfg.Checkpoint.Dir, task, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open checkpoint ledger: %w", err)
	}
	defer store.Close()

	done, page := store.Load()

	fmt.Printf("Checkpoint ledger for task: %s\n", task)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Completed items: %d\n", len(done))
	fmt.Printf("Last page:       %d\n", page)

	if len(done) > 0 {
		ids := make([]string, 0, len(done))
		for id := range done {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Println()
		fmt.Println("Done ids:")
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

// loadEnvFile loads KEY=VALUE pairs from a file into the environment.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}
