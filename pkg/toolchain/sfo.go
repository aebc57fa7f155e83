package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// GenerateSFO produces the param.sfo metadata blob for the given title id
// and display title and returns its raw bytes. The generator writes to a
// temporary file which is cleaned up before returning.
func GenerateSFO(ctx context.Context, id, title string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "sfo")
	if err != nil {
		return nil, eris.Wrap(err, "failed to create a temporary directory")
	}
	defer os.RemoveAll(tmpDir)

	bin := MksfoexPath()
	outPath := filepath.Join(tmpDir, "param.sfo")
	vlog.Log(ctx).Info().Str("task", "sfo").Bool("command", true).
		Msg(strings.Join([]string{bin, "-s", "TITLE_ID=" + id, title, outPath}, " "))

	proc := exec.CommandContext(ctx, bin, "-s", "TITLE_ID="+id, title, outPath)
	out, err := proc.CombinedOutput()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to run %s: %s", bin, out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, eris.Wrapf(err, "%s did not produce %s", bin, outPath)
	}

	return data, nil
}
