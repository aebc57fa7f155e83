package toolchain

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// RunCompiler executes the configured compiler command inside the project
// root. The command runs through a builtin POSIX interpreter so the same
// descriptor works on every platform, with -e to stop at the first failing
// statement.
func RunCompiler(ctx context.Context, root, command string) error {
	if strings.TrimSpace(command) == "" {
		return eris.New("the compiler command is empty")
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "compiler")
	if err != nil {
		return eris.Wrapf(err, "failed to parse the compiler command %q", command)
	}

	runner, err := interp.New(
		interp.Dir(root),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize the command runner")
	}

	vlog.Log(ctx).Info().Str("task", "compile").Bool("command", true).Msg(command)

	err = runner.Run(ctx, prog)
	if err != nil {
		return eris.Wrapf(err, "compiler command %q failed", command)
	}

	return nil
}
