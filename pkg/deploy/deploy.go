package deploy

import (
	"context"
	"net"
	"os"
	"strconv"

	"github.com/fatihdgn/tstlpp-vita/pkg/pipeline"
	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// Options adjust a deployment run.
type Options struct {
	// SkipLoader suppresses the loader binary check.
	SkipLoader bool
	// Launch starts the app once the upload finished.
	Launch bool
}

// Run stages the full pipeline output and pushes it onto the device:
// stop the running app, upload the tree, optionally launch. The steps are
// strictly sequential and the first failure aborts the rest; a failed
// upload after a successful destroy simply leaves the app stopped.
func Run(ctx context.Context, cfg *project.Config, opts Options) error {
	staging, err := pipeline.Stage(ctx, cfg, project.ValidateOptions{
		SkipLoader: opts.SkipLoader,
		NeedRemote: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			vlog.Log(ctx).Warn().Msgf("could not remove the staging directory %s: %v", staging, err)
		}
	}()

	client := NewCommandClient(cfg)
	vlog.Log(ctx).Info().Msg("closing the running app")
	if err := client.Destroy(ctx); err != nil {
		return err
	}

	uploader := &FTPUploader{
		Address: net.JoinHostPort(cfg.RemoteAddress, strconv.Itoa(cfg.Ports.TransferPort)),
		Timeout: ftpTimeout,
	}
	if err := uploader.Push(ctx, staging, cfg.ID); err != nil {
		return err
	}

	if opts.Launch {
		vlog.Log(ctx).Info().Msgf("launching %s", cfg.ID)
		if err := client.Launch(ctx, cfg.ID); err != nil {
			return err
		}
	}

	vlog.Log(ctx).Info().Msg("deploy finished")
	return nil
}
