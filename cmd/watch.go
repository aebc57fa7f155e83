package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/deploy"
	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watches the project and re-deploys on every change",
	Long: `Keeps running until interrupted and triggers a full deployment whenever
files in the project change. Changes arriving while a deployment runs are
collapsed into a single follow-up run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := commandContext(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadProject(cmd)
		if err != nil {
			return err
		}

		skipLoader, err := cmd.Flags().GetBool("no-loader-check")
		if err != nil {
			return err
		}

		launch, err := cmd.Flags().GetBool("launch")
		if err != nil {
			return err
		}

		debounce, err := cmd.Flags().GetDuration("debounce")
		if err != nil {
			return err
		}

		// fail on config problems now instead of at the first change
		err = cfg.Validate(project.ValidateOptions{SkipLoader: skipLoader, NeedRemote: true})
		if err != nil {
			return err
		}

		opts := deploy.Options{SkipLoader: skipLoader, Launch: launch}
		return watch.Run(ctx, cfg, debounce, func(ctx context.Context) error {
			return deploy.Run(ctx, cfg, opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("debounce", 1500*time.Millisecond, "how long changes may settle before a deployment starts")
	watchCmd.Flags().Bool("launch", true, "launch the app after each deployment")
	watchCmd.Flags().Bool("no-loader-check", false, "deploy even when the loader binary is missing")
}
