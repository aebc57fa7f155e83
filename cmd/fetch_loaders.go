package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/fetch"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

var fetchLoadersCmd = &cobra.Command{
	Use:   "fetch-loaders",
	Short: "Downloads the lpp-vita loader binaries",
	Long: `Downloads the loader binaries listed in vita-loaders.yml into the system
directory. Finished downloads are stamped and skipped on the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := commandContext(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadProject(cmd)
		if err != nil {
			return err
		}

		manifest, err := cmd.Flags().GetString("manifest")
		if err != nil {
			return err
		}
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(cfg.Root, manifest)
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		vlog.PrintTask("Downloading loaders")
		err = fetch.Run(ctx, cfg, manifest, force)
		if err != nil {
			return err
		}

		vlog.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchLoadersCmd)
	fetchLoadersCmd.Flags().StringP("manifest", "m", fetch.DefaultManifestName, "path to the loader manifest")
	fetchLoadersCmd.Flags().BoolP("force", "f", false, "download even when stamps say everything is up to date")
}
