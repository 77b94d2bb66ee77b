// Package cli implements the command-line interface for discover.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"discover/internal/config"
	"discover/internal/executor"
	"discover/internal/history"
	"discover/internal/logging"
	"discover/internal/metrics"
	"discover/internal/ui"
	"discover/pkg/backend"
	"discover/pkg/backend/flatpak"
	"discover/pkg/backend/native"
	"discover/pkg/backend/packagekit"
	"discover/pkg/catalog"
	"discover/pkg/transaction"
)

var (
	// Global flags
	cfgFile     string
	backendName string
	outputFmt   string
	dryRun      bool
	yes         bool
	verbose     bool
	noColor     bool

	// Global state
	cfg       *config.Config
	logger    = zap.NewNop()
	runner    *executor.Executor
	journal   *history.Store
	collector *metrics.Collector
	cat       *catalog.Catalog
)

// Build metadata - set at build time via ldflags
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// backendFactory opens the configured backends. Tests replace it.
var backendFactory = openBackends

var rootCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse, install and update software from every package source",
	Long: `Discover aggregates Flatpak, PackageKit and the distribution's own
package tool into one catalog. Search once, install from wherever the
software lives and keep everything up to date.

Resources can be named by package name, display name, appstream id
or by locator (flatpak://org.kde.kate, packagekit://vim).

Examples:
  discover search editor             # Search every backend
  discover install org.kde.kate      # Install, asking which source if ambiguous
  discover install kate -b flatpak   # Install from Flatpak only
  discover update                    # Apply all pending updates
  discover browse                    # Interactive interface`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeApp()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdown()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "", "restrict to one backend (flatpak, packagekit, native)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "assume yes to all prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		ui.ErrorMsg("%v", err)
		// PersistentPostRunE is skipped when RunE fails.
		_ = shutdown()
	}
	return err
}

// initializeApp loads the configuration and sets up output and logging. The catalog is opened
// by the commands that need it.
func initializeApp() error {
	// Load configuration
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// Apply global flag overrides
	if yes {
		cfg.General.AutoConfirm = true
	}
	if dryRun {
		cfg.General.DryRun = true
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if noColor {
		cfg.Output.Color = false
	}
	if outputFmt != "" {
		cfg.Output.Format = outputFmt
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Initialize UI
	ui.Init(cfg.ShouldUseColor(), cfg.Output.Unicode)

	logger, err = logging.New(cfg.Log, cfg.Output.Verbose)
	if err != nil {
		return err
	}
	runner = executor.New(logger, cfg.General.DryRun)
	runner.SetInteractive(interactive())
	return nil
}

// shutdown releases whatever the command opened. It is safe to call twice.
func shutdown() error {
	var err error
	if cat != nil {
		err = cat.Close()
		cat = nil
	}
	if journal != nil {
		if cerr := journal.Close(); cerr != nil && err == nil {
			err = cerr
		}
		journal = nil
	}
	_ = logger.Sync()
	return err
}

// openCatalog opens the journal and the configured backends and loads their catalogs.
func openCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if cat != nil {
		return cat, nil
	}

	var opts []transaction.ListenerOption
	if j, err := history.Open(config.HistoryPath()); err != nil {
		// Another discover process may hold the journal; keep working without it.
		logger.Warn("history unavailable", zap.Error(err))
	} else {
		journal = j
		opts = append(opts, transaction.WithRecorder(journal))
	}
	opts = append(opts, transaction.WithObserver(observerFunc(func(tx *transaction.Transaction) {
		if collector != nil {
			collector.ObserveTransaction(tx)
		}
	})))

	listener := transaction.NewListener(logger.Named("transactions"), opts...)
	c := catalog.New(logger,
		catalog.WithPriority(cfg.General.BackendPriority...),
		catalog.WithListener(listener),
	)
	collector = metrics.New(c)
	for _, b := range backendFactory(ctx) {
		if backendName != "" && b.Name() != backendName {
			_ = b.Close()
			continue
		}
		c.Register(b)
	}
	cat = c

	for name, err := range c.SetupErrors() {
		if cfg.Output.Verbose {
			ui.WarningMsg("%s unavailable: %v", name, err)
		}
	}
	if len(c.Backends()) == 0 {
		if backendName != "" {
			return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, backendName)
		}
		return nil, ErrNoBackends
	}

	err := withProgress("Loading catalog", func() error {
		return c.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// openBackends builds every enabled backend from the configuration, or only the one named by
// --backend even when the configuration disables it.
func openBackends(ctx context.Context) []backend.Backend {
	names := cfg.EnabledBackends()
	if backendName != "" {
		names = []string{backendName}
	}
	var bs []backend.Backend
	for _, name := range names {
		bc := cfg.Backend(name)
		switch name {
		case config.BackendFlatpak:
			opts := flatpak.DefaultOptions()
			if bc.RuntimeDeferrals != nil {
				opts.RuntimeDeferrals = *bc.RuntimeDeferrals
			}
			if bc.Watch != nil {
				opts.Watch = *bc.Watch
			}
			bs = append(bs, flatpak.Open(ctx, logger, runner, bc.Installations, bc.InstallationPaths, opts))
		case config.BackendPackageKit:
			bs = append(bs, packagekit.Open(ctx, logger, bc.Bus))
		case config.BackendNative:
			bs = append(bs, native.Open(logger, runner, bc.Tool))
		default:
			logger.Warn("unknown backend in configuration", zap.String("backend", name))
		}
	}
	return bs
}

// observerFunc adapts a function to transaction.Observer.
type observerFunc func(tx *transaction.Transaction)

func (f observerFunc) ObserveTransaction(tx *transaction.Transaction) { f(tx) }

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print discover version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ui.Structured(cfg.Output.Format) {
			return ui.Encode(ui.Out, cfg.Output.Format, map[string]string{
				"version": Version,
				"commit":  Commit,
				"built":   BuildTime,
			})
		}
		ui.InfoMsg("discover version %s", Version)
		if Commit != "unknown" {
			ui.MutedMsg("  Commit: %s", Commit)
		}
		if BuildTime != "unknown" {
			ui.MutedMsg("  Built:  %s", BuildTime)
		}
		return nil
	},
}
