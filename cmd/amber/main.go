package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amber-go/internal/amber"
	"amber-go/internal/app"
	"amber-go/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an AmberApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Load", "Build").
func newApp(operation string) (*app.AmberApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewAmberApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// describeLoadError names the failing document of a batch failure.
func describeLoadError(err error) error {
	var lerr *amber.LoadFromFileError
	if errors.As(err, &lerr) {
		return fmt.Errorf("loading %s failed: %w", lerr.Path, lerr.Err)
	}
	return err
}

// signalContext is cancelled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "amber",
	Short:        "Keep database records in sync with files on disk",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["project_root"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Project Root: %s\n", defaults["project_root"])
		fmt.Println("Declare your models under [[models]] before loading.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Project Root: %s\n", cfg.ProjectRoot)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Output Dir:   %s\n", cfg.OutputDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("On Delete:    %s\n", cfg.OnDelete)
		fmt.Printf("Publish:      %s\n", cfg.Publish.Type)
		fmt.Printf("Models:\n")
		for _, m := range cfg.Models {
			fmt.Printf("  %s.%s\n", m.AppLabel, m.Name)
		}
		return nil
	},
}

// load command
var loadCmd = &cobra.Command{
	Use:   "load [PATH...]",
	Short: "Load documents into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Load")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Load(cmd.Context(), args)
		if err != nil {
			return describeLoadError(err)
		}

		fmt.Printf("Loaded %d document(s)\n", result.Loaded)
		return nil
	},
}

// dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write every record to its document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Dump")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Dump(cmd.Context())
		if err != nil {
			return fmt.Errorf("dump failed: %w", err)
		}

		fmt.Printf("Dumped %d document(s)\n", count)
		return nil
	},
}

// build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Render the site into the output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Build")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		count, err := a.Build(ctx)
		if err != nil {
			return fmt.Errorf("build failed: %w", describeLoadError(err))
		}

		fmt.Printf("Built %d page(s)\n", count)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site and reload documents as they change",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		a, err := newApp("Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		if err := a.Serve(ctx, port); err != nil {
			return describeLoadError(err)
		}
		return nil
	},
}

// publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Copy the built site to the publish target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Publish")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		count, err := a.Publish(ctx)
		if err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}

		fmt.Printf("Published %d file(s)\n", count)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No sync operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from listen_addr)")
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
