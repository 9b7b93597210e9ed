package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ticker-storefront/internal/app"
	"ticker-storefront/internal/config"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/security"
)

// Version information, overridden at build time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the command dependencies. The application state is built on
// first use so that commands such as version never open the stores.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	mu    sync.Mutex
	state *app.App
}

// State returns the application state, building it on first call.
func (a *App) State(ctx context.Context) (*app.App, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != nil {
		return a.state, nil
	}
	st, err := app.New(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	a.state = st
	return st, nil
}

// Close releases the application state if it was built.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == nil {
		return nil
	}
	err := a.state.Close()
	a.state = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(a *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storefront",
		Short: "Ticker storefront client",
		Long: `Storefront is a terminal client for the ticker storefront.

Browse live quotes, keep a cart that survives restarts, place orders and
review your portfolio. Login state is shared with other running instances.

Use 'storefront <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				a.Config = cfg

				debug, _ := cmd.Flags().GetBool("debug")
				a.Logger = newLogger(cfg, debug)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logging.WithLogger(ctx, a.Logger.With().Str("command", cmd.Name()).Logger()))
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/storefront)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, a)
	addTickerCommands(rootCmd, a)
	addCartCommands(rootCmd, a)
	addAccountCommands(rootCmd, a)

	return rootCmd
}

func newLogger(cfg *config.Config, debug bool) zerolog.Logger {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Log.Level
	lc.File = cfg.Log.File
	lc.FilePath = cfg.Log.Path
	// Console logs only in debug mode so command output stays readable.
	lc.Console = debug
	if debug {
		lc.Level = "debug"
	}
	return logging.NewLoggerWithConfig(lc)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	a := &App{Logger: zerolog.Nop()}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	rootCmd := NewRootCmd(a)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		out := newOutput(os.Stderr, false, isTerminal())
		out.Error("Error: %v", err)
		return 1
	}
	return 0
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, a *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(a))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Storefront v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(a.Config)
			}
			showConfig(output, a.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": a.Config.Dir})
			} else {
				output.Println(filepath.Join(a.Config.Dir, "config.toml"))
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := a.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("API")
	output.Printf("  Base URL:        %s\n", cfg.API.BaseURL)
	output.Printf("  Push channel:    %s\n", cfg.WebSocketURL())
	output.Printf("  Timeout:         %s\n", cfg.API.Timeout)
	output.Printf("  Max retries:     %d\n", cfg.API.MaxRetries)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Cart store:      %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	output.Printf("  Session:         %s (%s)\n", cfg.Session.Storage, cfg.Session.Path)
	output.Println()

	output.Bold("Auth Bus")
	output.Printf("  Driver:          %s\n", cfg.Bus.Driver)
	if cfg.Bus.Driver == "redis" {
		output.Printf("  Redis:           %s\n", security.RedactURL(cfg.Bus.RedisURL))
	}
	output.Printf("  Channel:         %s\n", cfg.Bus.Channel)
	output.Println()

	output.Bold("Live Feed")
	output.Printf("  Page size:       %d\n", cfg.Feed.Limit)
	output.Printf("  Reconnects:      %d every %s\n", cfg.Feed.MaxReconnects, cfg.Feed.ReconnectDelay)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Log.Level)
	output.Printf("  File:            %s\n", fmtBool(cfg.Log.File, cfg.Log.Path))
}

func fmtBool(on bool, detail string) string {
	if !on {
		return "off"
	}
	return fmt.Sprintf("on (%s)", detail)
}
