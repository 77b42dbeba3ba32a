// Package main is the CLI entry point for devreload.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/devreload/internal/daemon"
	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/internal/infra"
	"github.com/eliteGoblin/devreload/internal/livereload"
	"github.com/eliteGoblin/devreload/internal/policy"
	"github.com/eliteGoblin/devreload/internal/supervisor"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// exitInterrupted is the exit status after a forced second interrupt.
const exitInterrupted = 130

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devreload [app] [-- app args]",
	Short: "Development server with automatic restart and live reload",
	Long: `devreload runs a Go web application and restarts it whenever its code
changes. With --static it also serves the static directory on the auxiliary
port and tells connected browsers to reload changed assets.

app is a directory holding a main package, a Go file or an executable.
The application listens on $PORT; wrap its handler with pkg/inject to get
the live-reload script added to its HTML pages.`,
	Version:      Version,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runServe,
}

var configCmd = &cobra.Command{
	Use:   "config [app]",
	Short: "Print the effective configuration as YAML",
	Long:  `Resolves flags and the config file the same way the server does and prints the result.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath     string
	staticDir      string
	staticURL      string
	mainPort       int
	auxPort        int
	verbose        bool
	stopTimeout    time.Duration
	forceKill      bool
	codePatterns   []string
	ignorePatterns []string
	scriptPath     string
	jsonOutput     bool
)

func init() {
	defaults := domain.DefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&staticDir, "static", "s", "", "Static files directory, served on the aux port and live reloaded")
	flags.StringVar(&staticURL, "static-url", defaults.StaticURL, "URL path static files are served under")
	flags.IntVarP(&mainPort, "port", "p", defaults.MainPort, "Port the application listens on")
	flags.IntVar(&auxPort, "aux-port", defaults.AuxPort, "Port of the live-reload and static server")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	flags.DurationVar(&stopTimeout, "stop-timeout", defaults.StopTimeout, "How long the application may take to exit")
	flags.BoolVar(&forceKill, "force-kill", false, "Kill the application's process tree when it ignores the interrupt")
	flags.StringSliceVar(&codePatterns, "code-pattern", nil, "Extra glob of files that trigger a restart")
	flags.StringSliceVar(&ignorePatterns, "ignore", nil, "Extra glob of files to ignore")
	flags.StringVar(&scriptPath, "livereload-js", "", "Serve this file as livereload.js instead of the built-in client")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveConfig builds the configuration: defaults, then the config file,
// then explicitly set flags, then positional arguments.
func resolveConfig(cmd *cobra.Command, args []string, fs domain.FileSystemManager) (domain.Config, error) {
	cfg := domain.DefaultConfig()
	if configPath != "" {
		loaded, err := infra.LoadConfigFile(fs, configPath, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("static") {
		cfg.StaticDir = staticDir
	}
	if flags.Changed("static-url") {
		cfg.StaticURL = staticURL
	}
	if flags.Changed("port") {
		cfg.MainPort = mainPort
	}
	if flags.Changed("aux-port") {
		cfg.AuxPort = auxPort
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("stop-timeout") {
		cfg.StopTimeout = stopTimeout
	}
	if flags.Changed("force-kill") {
		cfg.ForceKill = forceKill
	}
	if flags.Changed("code-pattern") {
		cfg.CodePatterns = append(cfg.CodePatterns, codePatterns...)
	}
	if flags.Changed("ignore") {
		cfg.IgnorePatterns = append(cfg.IgnorePatterns, ignorePatterns...)
	}
	if flags.Changed("livereload-js") {
		cfg.LiveReloadScript = scriptPath
	}

	positional, appArgs := args, []string(nil)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		positional, appArgs = args[:dash], args[dash:]
	}
	if len(positional) > 1 {
		return cfg, fmt.Errorf("expected one application path, got %d", len(positional))
	}
	if len(positional) == 1 {
		cfg.AppPath = positional[0]
	}
	if len(appArgs) > 0 {
		cfg.AppArgs = appArgs
	}

	if cfg.MainPort == cfg.AuxPort {
		return cfg, fmt.Errorf("port and aux port must differ (both %d)", cfg.MainPort)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	fs := infra.NewFileSystemManager()
	cfg, err := resolveConfig(cmd, args, fs)
	if err != nil {
		return err
	}
	if cfg.AppPath == "" {
		return errors.New("application path required (argument or \"app\" in the config file)")
	}

	logger := createLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	factory, codeRoot, err := infra.NewCommandLoader(fs).Resolve(cfg.AppPath)
	if err != nil {
		return err
	}

	watcher, err := infra.NewNotifyWatcher(fs, logger.Named("watch"))
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watchPolicies(watcher, cfg, codeRoot, logger); err != nil {
		_ = watcher.Close()
		return err
	}

	pm := infra.NewProcessManager()
	sup := supervisor.New(
		supervisor.Config{StopTimeout: cfg.StopTimeout, ForceKill: cfg.ForceKill},
		infra.NewCommandSpawner(factory, cfg, logger.Named("app")),
		pm,
		logger.Named("supervisor"),
	)
	registry := livereload.NewRegistry(cfg.StaticRoot(), cfg.StaticURL, logger.Named("livereload"))
	server := daemon.NewDevServer(daemon.NewDevServerConfig(cfg), watcher, sup, registry, fs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go handleSignals(sigChan, cancel, sup, os.Exit, logger)

	logger.Info("starting devreload",
		zap.String("app", factory.Describe()),
		zap.String("code_root", codeRoot),
		zap.Int("port", cfg.MainPort),
		zap.Int("aux_port", cfg.AuxPort),
		zap.String("static", cfg.StaticRoot()))

	if err := server.Run(ctx); err != nil {
		logger.Error("devreload stopped", zap.Error(err))
		return err
	}
	return nil
}

// appKiller force-terminates the application.
type appKiller interface {
	Kill() error
}

// handleSignals cancels on the first signal. A second signal kills the
// application and exits with exitInterrupted.
func handleSignals(sigChan <-chan os.Signal, cancel context.CancelFunc, app appKiller, exit func(int), logger *zap.Logger) {
	if _, ok := <-sigChan; !ok {
		return
	}
	logger.Info("received shutdown signal, stopping (interrupt again to force)")
	cancel()
	if _, ok := <-sigChan; !ok {
		return
	}
	logger.Warn("second interrupt, killing application")
	if err := app.Kill(); err != nil {
		logger.Warn("failed to kill application", zap.Error(err))
	}
	_ = logger.Sync()
	exit(exitInterrupted)
}

type watchRoot struct {
	class domain.ChangeClass
	root  string
}

// watchPolicies registers the code root and, when configured, the static
// directory with their policy filters.
func watchPolicies(watcher *infra.NotifyWatcher, cfg domain.Config, codeRoot string, logger *zap.Logger) error {
	policies := policy.NewRegistryFromConfig(cfg)

	roots := []watchRoot{{domain.ClassCode, codeRoot}}
	if cfg.StaticDir != "" {
		roots = append(roots, watchRoot{domain.ClassAsset, cfg.StaticRoot()})
	}

	for _, r := range roots {
		p, ok := policies.ForClass(r.class)
		if !ok {
			return fmt.Errorf("no watch policy for %s changes", r.class)
		}
		filter, err := policy.ToFilter(p, logger.Named(p.ID()))
		if err != nil {
			return fmt.Errorf("invalid %s patterns: %w", p.ID(), err)
		}
		if err := watcher.Watch(r.root, filter); err != nil {
			return err
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args, infra.NewFileSystemManager())
	if err != nil {
		return err
	}
	out, err := infra.EncodeConfig(cfg)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if _, err := w.Write(out); err != nil {
		return err
	}
	return writePolicies(w, cfg)
}

// writePolicies appends the effective watch rules as YAML comments.
func writePolicies(w io.Writer, cfg domain.Config) error {
	for _, p := range policy.NewRegistryFromConfig(cfg).GetAll() {
		if _, err := fmt.Fprintf(w, "# %s policy (%s): include %s; ignore %s\n",
			p.ID(), p.Name(),
			strings.Join(p.IncludePatterns(), " "),
			strings.Join(p.IgnorePatterns(), " ")); err != nil {
			return err
		}
	}
	return nil
}

func createLogger(verbose bool) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	config.DisableStacktrace = true
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableCaller = true
	}

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("devreload %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
