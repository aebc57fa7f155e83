// Package toolchain wraps the external tools the pipeline shells out to:
// the VitaSDK SFO generator and the configured source compiler.
package toolchain

import (
	"context"
	"os"
	"os/exec"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// EnvMksfoex overrides the location of the SFO generator binary.
const EnvMksfoex = "VITA_MKSFOEX"

const defaultMksfoex = "vita-mksfoex"

// title ids are nine uppercase alphanumerics
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MksfoexPath returns the SFO generator binary to invoke.
func MksfoexPath() string {
	if path := os.Getenv(EnvMksfoex); path != "" {
		return path
	}

	return defaultMksfoex
}

// Probe runs the SFO generator against a throwaway id and output file to
// make sure it can be started at all. The pipeline calls this before any
// other work so a missing VitaSDK fails fast.
func Probe(ctx context.Context) error {
	probeID, err := nanoid.Generate(idAlphabet, 9)
	if err != nil {
		return eris.Wrap(err, "failed to generate a probe id")
	}

	tmp, err := os.CreateTemp("", "probe-*.sfo")
	if err != nil {
		return eris.Wrap(err, "failed to create a temporary probe file")
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	bin := MksfoexPath()
	vlog.Log(ctx).Debug().Msgf("probing %s", bin)

	proc := exec.CommandContext(ctx, bin, "-s", "TITLE_ID="+probeID, "probe", tmp.Name())
	out, err := proc.CombinedOutput()
	if err != nil {
		return eris.Wrapf(err,
			"%s is not usable; install the VitaSDK and make sure the binary is on your PATH (or set %s): %s",
			bin, EnvMksfoex, out)
	}

	return nil
}
