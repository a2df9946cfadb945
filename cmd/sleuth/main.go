package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sleuthnerd/internal/analysis"
	"sleuthnerd/internal/config"
	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
	"sleuthnerd/internal/perception"
	"sleuthnerd/internal/store"
	"sleuthnerd/internal/websearch"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Run flags
	runContext     string
	runDepth       int
	runQueries     int
	runConcurrency int
	runWatch       bool
	runOutput      string

	// Sessions flags
	sessionsLimit int

	// Report flags
	reportRender bool

	// Logger
	logger *zap.Logger

	// Loaded by the root PersistentPreRunE before any command runs
	cfg     *config.Config
	dataDir string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "sleuth - autonomous investigative research",
	Long: `sleuth runs multi-round investigative research on a subject.

Each round plans search queries, executes them against the web, reflects
on what came back, and merges the findings into an entity graph. The
loop routes itself: it consolidates cross-entity connections once near
the end and stops on its own when depth is exhausted, when the analyst
judges coverage sufficient, or when new discoveries dry up. A final
due-diligence report is synthesized from the accumulated evidence.

Sessions, graphs, and reports persist under the data directory
(~/.sleuth by default, SLEUTH_HOME overrides).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		dataDir = config.DataDir()
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Category log files are best-effort; a run proceeds without
		// them rather than failing before any work happened.
		if err := logging.Initialize(dataDir); err != nil {
			logger.Warn("Debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd starts an investigation
var runCmd = &cobra.Command{
	Use:   "run [subject]",
	Short: "Investigate a subject and write the report",
	Long: `Runs the research loop against a subject.

The subject is taken from the arguments. Free-form context (who is
asking, what decision the research supports) can be supplied with
--context to steer query planning.

Example:
  sleuth run "Jane Doe" --context "pre-investment screening, fintech" --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInvestigation,
}

// sessionsCmd lists stored sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored investigation sessions",
	RunE:  listSessions,
}

// reportCmd prints a stored report
var reportCmd = &cobra.Command{
	Use:   "report [session-id]",
	Short: "Print the report for a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  showReport,
}

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml to the data directory",
	RunE:  configInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  configShow,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <data-dir>/config.yaml)")

	// Run flags
	runCmd.Flags().StringVar(&runContext, "context", "", "Investigation context passed to the query planner")
	runCmd.Flags().IntVar(&runDepth, "depth", 0, "Override max research depth")
	runCmd.Flags().IntVar(&runQueries, "queries", 0, "Override max queries per depth")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Override concurrent searches")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch progress in an interactive view")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Write the report markdown to this path")

	// Sessions flags
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")

	// Report flags
	reportCmd.Flags().BoolVar(&reportRender, "render", false, "Render the markdown for the terminal")

	// Config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInvestigation wires the collaborators and drives a full session:
// research loop, persistence, report synthesis.
func runInvestigation(cmd *cobra.Command, args []string) error {
	subject := joinArgs(args)

	// Flag overrides apply only when set; zero is a budget the config
	// may legitimately carry.
	if cmd.Flags().Changed("depth") {
		cfg.Research.MaxDepth = runDepth
	}
	if cmd.Flags().Changed("queries") {
		cfg.Research.MaxQueriesPerDepth = runQueries
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Search.MaxConcurrent = runConcurrency
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown. In watch mode the terminal is raw and
	// ctrl+c arrives as a key instead, so this covers the headless run
	// and the synthesis tail in both modes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, finishing current iteration")
		cancel()
	}()

	// 1. Open the store first: a broken database should abort the run
	// before any API spend.
	db, err := store.New(cfg.Storage.ResolveDatabasePath(dataDir))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	// 2. Search infrastructure
	provider, err := websearch.NewProvider(cfg.Search)
	if err != nil {
		return fmt.Errorf("failed to build search provider: %w", err)
	}
	var browserFetcher *websearch.BrowserFetcher
	if cfg.Search.Browser.Enabled {
		browserFetcher = websearch.NewBrowserFetcher(cfg.Search.Browser.BinPath, cfg.Search.Browser.GetBrowserTimeout())
		defer browserFetcher.Close()
	}
	executor := websearch.NewBatchExecutor(cfg.Search, provider, websearch.NewPageFetcher(browserFetcher))

	// 3. One LLM client per engine role so each carries its own model
	// and sampling profile
	roles := []string{config.RolePlanner, config.RoleReflect, config.RoleJudge, config.RoleMapper, config.RoleReport}
	clients := make(map[string]perception.LLMClient, len(roles))
	for _, role := range roles {
		client, cerr := perception.NewClient(cfg, role)
		if cerr != nil {
			return fmt.Errorf("failed to build %s client: %w", role, cerr)
		}
		clients[role] = client
	}

	// 4. Engine. The audit trail opens lazily because the session ID is
	// minted inside Run.
	trail := logging.NewLazySessionAudit(dataDir)
	defer trail.Close()

	orch, err := investigation.NewOrchestrator(
		investigation.OrchestratorConfig{
			MaxDepth:           cfg.Research.MaxDepth,
			MaxQueriesPerDepth: cfg.Research.MaxQueriesPerDepth,
			MaxPlanAttempts:    cfg.Research.MaxPlanAttempts,
			StagnationWindow:   cfg.Research.StagnationWindow,
			StagnationEpsilon:  cfg.Research.StagnationEpsilon,
		},
		investigation.Collaborators{
			Queries:  analysis.NewQueryWriter(clients[config.RolePlanner]),
			Search:   executor,
			Analyzer: analysis.NewReflector(clients[config.RoleReflect]),
			Judge:    analysis.NewEntityJudge(clients[config.RoleJudge]),
			Mapper:   analysis.NewRelationMapper(clients[config.RoleMapper]),
			Trail:    trail,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	// 5. Run the loop, watching or headless
	var input *investigation.ReportInput
	var runErr error
	if runWatch {
		input, runErr = runWithTUI(ctx, cancel, orch, subject, runContext)
	} else {
		logger.Info("Investigation started",
			zap.String("subject", subject),
			zap.Int("max_depth", cfg.Research.MaxDepth))
		input, runErr = runPlain(ctx, orch, subject, runContext)
	}
	if input == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn("Session aborted", zap.Error(runErr))
	}

	// 6. Persist the session before synthesis; a failed report must not
	// lose the research record.
	if serr := db.SaveSession(input); serr != nil {
		logger.Error("Failed to save session", zap.Error(serr))
	}
	if cfg.Storage.SnapshotGraphs {
		if serr := db.SaveGraph(input.SessionID, input.Entities, input.Graph); serr != nil {
			logger.Error("Failed to save graph snapshot", zap.Error(serr))
		}
	}

	// 7. Synthesize the report. Cancelled sessions skip it so ctrl+c
	// stops all API spend; other aborts still get a partial report when
	// at least one iteration completed.
	synthesize := input.CleanTermination() || len(input.Reflections) > 0
	if input.TerminationReason == investigation.ErrorReason(investigation.KindCancelled) {
		synthesize = false
	}
	var rep *investigation.Report
	if synthesize {
		reporter := analysis.NewReportWriter(clients[config.RoleReport], cfg.Report)
		sctx, scancel := context.WithTimeout(ctx, cfg.GetLLMTimeout())
		rep, err = reporter.Synthesize(sctx, *input)
		scancel()
		if err != nil {
			logger.Error("Report synthesis failed", zap.Error(err))
			rep = nil
		} else if serr := db.SaveReport(rep); serr != nil {
			logger.Error("Failed to save report", zap.Error(serr))
		}
	}

	// 8. Write the report artifact and summarize
	reportPath := ""
	if rep != nil {
		reportPath = runOutput
		if reportPath == "" {
			sessionDir := filepath.Join(dataDir, "sessions", input.SessionID)
			if merr := os.MkdirAll(sessionDir, 0755); merr != nil {
				logger.Error("Failed to create session directory", zap.Error(merr))
			}
			reportPath = filepath.Join(sessionDir, "report.md")
		}
		if werr := os.WriteFile(reportPath, []byte(rep.Markdown), 0644); werr != nil {
			logger.Error("Failed to write report file", zap.Error(werr))
			reportPath = ""
		}
	}

	if runWatch {
		if rep != nil && reportPath != "" {
			fmt.Printf("\nReport (risk: %s) written to %s\n", rep.RiskLevel, reportPath)
		}
	} else {
		printRunSummary(input, rep, reportPath)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// runPlain drives the session headless, logging progress events as
// they arrive.
func runPlain(ctx context.Context, orch *investigation.Orchestrator, subject, subjectContext string) (*investigation.ReportInput, error) {
	events := make(chan investigation.ProgressEvent, 64)
	orch.SetEvents(events)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			logProgress(ev)
		}
	}()

	input, err := orch.Run(ctx, subject, subjectContext)
	close(events)
	<-done
	return input, err
}

func logProgress(ev investigation.ProgressEvent) {
	fields := []zap.Field{zap.Int("depth", ev.Depth)}
	if ev.Queries > 0 {
		fields = append(fields, zap.Int("queries", ev.Queries))
	}
	if ev.Entities > 0 {
		fields = append(fields, zap.Int("entities", ev.Entities))
	}
	if ev.Decision != "" {
		fields = append(fields, zap.String("decision", ev.Decision))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Err != "" {
		fields = append(fields, zap.String("error", ev.Err))
	}
	msg := ev.Message
	if msg == "" {
		msg = ev.Phase
	}
	logger.Info(msg, fields...)
}

func sessionStatus(in *investigation.ReportInput) string {
	status := store.StatusCompleted
	if !in.CleanTermination() {
		status = store.StatusAborted
	}
	if in.Degraded {
		status += " (degraded)"
	}
	return status
}

func printRunSummary(in *investigation.ReportInput, rep *investigation.Report, reportPath string) {
	fmt.Println()
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Session:    %s\n", in.SessionID)
	fmt.Printf("Status:     %s\n", sessionStatus(in))
	fmt.Printf("Iterations: %d\n", in.Iterations)
	fmt.Printf("Entities:   %d\n", len(in.Entities))
	fmt.Printf("Queries:    %d\n", len(in.Queries))
	fmt.Printf("Reason:     %s\n", in.TerminationReason)
	if rep != nil {
		fmt.Printf("Risk:       %s\n", rep.RiskLevel)
	}
	if reportPath != "" {
		fmt.Printf("Report:     %s\n", reportPath)
	}
	fmt.Println(strings.Repeat("─", 50))
}

// listSessions prints stored sessions, newest first
func listSessions(cmd *cobra.Command, args []string) error {
	db, err := store.New(cfg.Storage.ResolveDatabasePath(dataDir))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	sessions, err := db.ListSessions(sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No stored sessions. Start one with: sleuth run <subject>")
		return nil
	}

	fmt.Printf("%-26s %-24s %-10s %5s %5s %7s  %s\n",
		"SESSION", "SUBJECT", "STATUS", "DEPTH", "ENT", "QUERIES", "STARTED")
	fmt.Println(strings.Repeat("─", 96))
	for _, s := range sessions {
		status := s.Status
		if s.Degraded {
			status += "*"
		}
		fmt.Printf("%-26s %-24s %-10s %5d %5d %7d  %s\n",
			s.ID, truncate(s.Subject, 24), status, s.FinalDepth, s.EntityCount, s.QueryCount,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(strings.Repeat("─", 96))
	fmt.Println("* entity merge ran degraded; treat groupings with care")
	return nil
}

// showReport prints a stored report's markdown
func showReport(cmd *cobra.Command, args []string) error {
	db, err := store.New(cfg.Storage.ResolveDatabasePath(dataDir))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	rep, err := db.GetReport(args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no report stored for session %s (the session may have aborted before synthesis)", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}

	if reportRender {
		renderer, rerr := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if rerr == nil {
			if out, rerr := renderer.Render(rep.Markdown); rerr == nil {
				fmt.Print(out)
				return nil
			}
		}
		// Fall back to raw markdown
	}
	fmt.Println(rep.Markdown)
	return nil
}

// configInit writes the default configuration file. API keys stay in
// the environment; the file never receives them.
func configInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Set ANTHROPIC_API_KEY (or GEMINI_API_KEY) before running an investigation.")
	return nil
}

// configShow prints the effective configuration, env overrides applied
// and secrets redacted
func configShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.LLM.APIKey = redactKey(shown.LLM.APIKey)
	shown.Search.TavilyAPIKey = redactKey(shown.Search.TavilyAPIKey)
	shown.Search.BraveAPIKey = redactKey(shown.Search.BraveAPIKey)

	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Printf("# data directory: %s\n", dataDir)
	fmt.Print(string(out))
	return nil
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
