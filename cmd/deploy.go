package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/deploy"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Stages the project and pushes it onto the device",
	Long: `Runs the same pipeline as build but skips the .vpk step: the staged files
are uploaded straight into ux0:/app/<ID> through vitacompanion's FTP server.
The running app is closed first and started again once the upload finished.`,
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

		vlog.PrintTask("Deploying " + cfg.Title)
		return deploy.Run(ctx, cfg, deploy.Options{SkipLoader: skipLoader, Launch: launch})
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().Bool("no-loader-check", false, "deploy even when the loader binary is missing")
	deployCmd.Flags().Bool("launch", true, "launch the app once the upload finished")
}
