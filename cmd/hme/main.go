package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hme-tools/hme/internal/app"
	"github.com/hme-tools/hme/internal/browser"
	"github.com/hme-tools/hme/internal/config"
	"github.com/hme-tools/hme/internal/drain"
	"github.com/hme-tools/hme/internal/gate"
	"github.com/hme-tools/hme/internal/history"
	"github.com/hme-tools/hme/internal/prompt"
	"github.com/hme-tools/hme/internal/web"
)

var (
	cfgFile  string
	verbose  bool
	headless bool

	cfg    *config.Config
	logger = zap.NewNop()
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hme",
		Short: "hme - Bulk manage iCloud Hide My Email addresses",
		Long: `hme drives a signed-in iCloud session in Chrome to deactivate, delete
or purge Hide My Email addresses in bulk.

You sign in yourself in the browser window; hme never sees your
credentials. Every operation shows what it will touch and asks for
confirmation before anything is changed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err = newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hme/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "Switch to headless Chrome right after login without asking")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(lc config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0700); err != nil {
			return nil, err
		}
		zc.OutputPaths = []string{lc.File}
		zc.ErrorOutputPaths = []string{lc.File}
	}
	return zc.Build()
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the interactive session (default)",
		Long:  "Open Chrome, wait for you to sign in to iCloud and show the operation menu.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Switch to headless Chrome right after login without asking")
	return cmd
}

func statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show operation history and totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent operations to show")

	return cmd
}

func serveCmd() *cobra.Command {
	var (
		port int
		open bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local history dashboard",
		Long: `Start a local web server showing past operations and the aliases
each one changed.

The server listens on 127.0.0.1 only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, open)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&open, "open", false, "Open the dashboard in the default browser")

	return cmd
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long:  "Write the default settings, timeouts and page selectors to the config file so they can be edited.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInteractive(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := browser.OptionsFromConfig(cfg.Browser)
	if path, ok := browser.FindChrome(cfg.Browser.ChromePath); ok {
		opts.ExecPath = path
	} else {
		fmt.Println("⚠️  Chrome or Chromium was not found in the usual places.")
		fmt.Println("   Install Chrome or set browser.chrome_path in the config file.")
		logger.Warn("chrome not found", zap.String("configured", cfg.Browser.ChromePath))
	}

	fmt.Println("🔐 Hide My Email Manager")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Starting Chrome...")
	b, err := browser.New(opts, logger)
	if err != nil {
		return err
	}
	session := browser.NewSession(b, cfg, os.Stdout, logger)
	defer session.Close()

	if err := session.Login(ctx); err != nil {
		return interrupted(err)
	}

	ask := prompt.NewTerminal()
	defer ask.Close()

	switchHeadless := headless
	if !switchHeadless && cfg.Browser.ShouldAskHeadless() {
		if switchHeadless, err = app.AskHeadless(ask, os.Stdout); err != nil {
			return interrupted(err)
		}
	}
	runningHeadless := false
	if switchHeadless {
		if err := session.SwitchToHeadless(ctx); err != nil {
			logger.Warn("continuing with visible browser", zap.Error(err))
		} else {
			runningHeadless = true
		}
	}

	if err := session.OpenHideMyEmail(ctx); err != nil {
		return interrupted(err)
	}

	appOpts := app.Options{
		Gate: gate.Options{
			LargeThreshold:    cfg.Gate.LargeThreshold,
			PerItem:           time.Duration(cfg.Gate.SecondsPerItem) * time.Second,
			PreviewLimit:      cfg.Gate.PreviewLimit,
			PurgePreviewLimit: cfg.Gate.PurgePreviewLimit,
			SummaryLimit:      cfg.Gate.SummaryLimit,
			SummaryMin:        cfg.Gate.SummaryMin,
		},
		Drain: drain.Options{
			ProcessDelay:    cfg.Timing.ProcessDelay(),
			MaxStaleRetries: cfg.Drain.MaxStaleRetries,
			Logger:          logger,
		},
		RateInterval: cfg.Drain.RateInterval,
		Headless:     runningHeadless,
		Reset:        session,
		Logger:       logger,
	}

	if cfg.History.IsEnabled() {
		store, err := history.NewStore(cfg.History.Path)
		if err != nil {
			fmt.Printf("⚠️  History disabled: %v\n", err)
			logger.Warn("history unavailable", zap.Error(err))
		} else {
			defer store.Close()
			appOpts.History = store
		}
	}

	console := app.New(session.Page(), ask, os.Stdout, appOpts)
	if err := console.Run(ctx); err != nil {
		return interrupted(err)
	}
	fmt.Println("Closing browser...")
	return nil
}

// interrupted turns an operator abort into a clean exit.
func interrupted(err error) error {
	if errors.Is(err, prompt.ErrAborted) || errors.Is(err, context.Canceled) {
		fmt.Println("\n\n⚠️  Interrupted by user (Ctrl+C)")
		logger.Info("interrupted")
		return nil
	}
	logger.Error("session failed", zap.Error(err))
	return err
}

func runStatus(limit int) error {
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("📊 Hide My Email History")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("  Operations: %d\n", stats.Operations)
	fmt.Printf("  Deactivated: %d\n", stats.Deactivated)
	fmt.Printf("  Deleted: %d\n", stats.Deleted)
	fmt.Printf("  Aborted: %d\n", stats.Aborted)

	ops, err := store.RecentOperations(limit)
	if err != nil {
		return fmt.Errorf("failed to get recent operations: %w", err)
	}

	if len(ops) > 0 {
		fmt.Println()
		fmt.Printf("📜 Recent Operations (last %d)\n", limit)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		for _, op := range ops {
			filter := "all"
			if op.Filter != "" {
				filter = "'" + op.Filter + "'"
			}
			fmt.Printf("%s %s - %s %s (deactivated %d, deleted %d)\n",
				outcomeIcon(op.Outcome),
				op.StartedAt.Local().Format("2006-01-02 15:04"),
				op.Mode,
				filter,
				op.Deactivated,
				op.Deleted,
			)
			if op.Error != "" {
				fmt.Printf("   Error: %s\n", op.Error)
			}
		}
	}

	return nil
}

func outcomeIcon(o history.Outcome) string {
	switch o {
	case history.OutcomeCompleted:
		return "✅"
	case history.OutcomeAborted:
		return "❌"
	case history.OutcomeCancelled:
		return "⏹️"
	default:
		return "⏳"
	}
}

func runServe(ctx context.Context, port int, open bool) error {
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	server, err := web.NewServer(port, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start(open)
}

func runInit(force bool) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(path, config.Defaults()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Configuration saved to %s\n", path)
	fmt.Println("Edit it to change timeouts or update page selectors when iCloud changes.")
	return nil
}
