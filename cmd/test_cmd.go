package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fatihdgn/tstlpp-vita/pkg/deploy"
	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

var testCmdCmd = &cobra.Command{
	Use:   "test:cmd",
	Short: "Launches the installed app, waits, then closes it again",
	Long: `Exercises the command channel without uploading anything: the installed
app is launched, kept open for the pause interval and closed again. Handy
for checking that the device is reachable before a long watch session.`,
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

		err = cfg.Validate(project.ValidateOptions{SkipLoader: true, NeedRemote: true})
		if err != nil {
			return err
		}

		pause, err := cmd.Flags().GetDuration("pause")
		if err != nil {
			return err
		}

		client := deploy.NewCommandClient(cfg)
		vlog.PrintTask("Launching " + cfg.ID)
		err = client.Launch(ctx, cfg.ID)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "interrupted while the app was open")
		case <-time.After(pause):
		}

		vlog.PrintTask("Closing " + cfg.ID)
		return client.Destroy(ctx)
	},
}

func init() {
	rootCmd.AddCommand(testCmdCmd)
	testCmdCmd.Flags().Duration("pause", 3*time.Second, "how long the app stays open")
}
