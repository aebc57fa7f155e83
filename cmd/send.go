package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/deploy"
	"github.com/fatihdgn/tstlpp-vita/pkg/project"
)

var sendCmd = &cobra.Command{
	Use:   "cmd <command>",
	Short: "Sends a raw command to the device's command channel",
	Long: `Sends one line to vitacompanion's command port and prints the reply.
Useful for commands this tool has no shortcut for; see the vitacompanion
documentation for the full list.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := commandContext(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadProject(cmd)
		if err != nil {
			return err
		}

		err = cfg.Validate(project.ValidateOptions{SkipLoader: true, NeedRemote: true})
		if err != nil {
			return err
		}

		client := deploy.NewCommandClient(cfg)
		reply, err := client.Send(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if reply != "" {
			fmt.Println(reply)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
