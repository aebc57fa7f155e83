package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/pipeline"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Packages the project into an installable .vpk",
	Long: `Compiles the TypeScript sources, collects the system and user files and
packages everything into <title>.vpk inside the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := commandContext(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadProject(cmd)
		if err != nil {
			return err
		}

		skipLoader, err := cmd.Flags().GetBool("no-loader-check")
		if err != nil {
			return err
		}

		vlog.PrintTask("Building " + cfg.Title)
		target, err := pipeline.Build(ctx, cfg, skipLoader)
		if err != nil {
			return err
		}

		vlog.PrintTask("Done: " + target)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().Bool("no-loader-check", false, "package even when the loader binary is missing")
}
