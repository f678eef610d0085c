// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
)

// appKeyType is the key for storing the App slot in the context.
type appKeyType string

const appKey appKeyType = "app"

// appSlot holds the App built for one invocation so it can be closed after the
// command returns, whether or not it failed.
type appSlot struct {
	app *app.App
}

// newApp is the application factory. It's a variable so tests can supply a
// container with a quiet logger.
var newApp = func(cfg config.Config) (*app.App, error) {
	return app.New(cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "A resumable crawler for paginated product catalogs.",
		Long: `catalog-crawler walks a bucketed, paginated catalog index to collect
product detail links, then visits each link and extracts one structured record
per product. Both stages checkpoint after every page, so an interrupted run
continues where it stopped.`,
		SilenceUsage: true,

		// Load config and build the application before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			slot, ok := cmd.Context().Value(appKey).(*appSlot)
			if !ok {
				slot = &appSlot{}
				cmd.SetContext(context.WithValue(cmd.Context(), appKey, slot))
			}
			slot.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CRAWLER_* env vars apply)")

	cmd.AddCommand(newLinksCmd())
	cmd.AddCommand(newDetailsCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := executeRoot(ctx, newRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// executeRoot runs root and closes the App it built. Cobra skips post-run hooks
// when a command fails, so the App is released here instead.
func executeRoot(ctx context.Context, root *cobra.Command) error {
	slot := &appSlot{}
	err := root.ExecuteContext(context.WithValue(ctx, appKey, slot))
	if slot.app != nil {
		slot.app.Close()
	}
	return err
}

func resolveApp(ctx context.Context) (*app.App, error) {
	slot, ok := ctx.Value(appKey).(*appSlot)
	if !ok || slot.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return slot.app, nil
}

// interrupted reports whether err is a user interrupt, which ends a run cleanly.
func interrupted(a *app.App, err error) bool {
	if errors.Is(err, context.Canceled) {
		a.Logger().Warn("interrupted, progress checkpointed", zap.Error(err))
		return true
	}
	return false
}
