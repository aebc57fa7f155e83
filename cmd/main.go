// Package cmd implements the tstlpp-vita CLI.
package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "tstlpp-vita",
	Short: "Build and deploy tool for TypeScript based lpp-vita projects",
	Long: `This command packages a TypeScript project written against lpp-vita into
an installable .vpk and pushes development builds onto a PS Vita running
vitacompanion. The project is described by a vita-project.json file.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", project.DefaultConfigName, "path to the project descriptor")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug output")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

// commandContext returns the command's context with a console logger
// attached, honoring the --verbose flag.
func commandContext(cmd *cobra.Command) (context.Context, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(NewConsoleWriter()).Level(level)
	return vlog.WithLogger(cmd.Context(), &logger), nil
}

func loadProject(cmd *cobra.Command) (*project.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	return project.Load(configPath)
}
