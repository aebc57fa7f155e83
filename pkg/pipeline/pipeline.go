// Package pipeline drives a full packaging run: validate the descriptor,
// probe the toolchain, compile, gather assets, generate metadata and stream
// everything into either a .vpk archive or a staging directory.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/assets"
	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/toolchain"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
	"github.com/fatihdgn/tstlpp-vita/pkg/vpk"
)

// Sink receives the staged files of a packaging run.
type Sink interface {
	WriteFile(name string, reader io.Reader) error
}

// DirSink stages files into a directory tree. Every file is synced on
// write so the whole tree has hit the disk once staging returns.
type DirSink struct {
	base string
}

// NewDirSink returns a sink rooted at base.
func NewDirSink(base string) *DirSink {
	return &DirSink{base: base}
}

// WriteFile stages one entry. Names follow the same rules as archive
// entries: forward slashes, nothing absolute, nothing escaping the
// staging root.
func (s *DirSink) WriteFile(name string, reader io.Reader) error {
	name = path.Clean(filepath.ToSlash(name))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		return eris.Errorf("invalid staging path %q", name)
	}

	dest := filepath.Join(s.base, filepath.FromSlash(name))

	err := os.MkdirAll(filepath.Dir(dest), os.FileMode(0770))
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(dest))
	}

	hdl, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(hdl, reader)
	if err != nil {
		hdl.Close()
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	err = hdl.Sync()
	if err != nil {
		hdl.Close()
		return eris.Wrapf(err, "failed to flush %s", dest)
	}

	err = hdl.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to close %s", dest)
	}

	return nil
}

// plan holds everything the packaging step needs once the front half of
// the pipeline ran.
type plan struct {
	entries []assets.Entry
	sfo     []byte
}

// prepare runs the shared front half: validation, toolchain probe,
// compiler, asset gathering and metadata generation. Nothing below the
// project's own directories is touched before validation passed.
func prepare(ctx context.Context, cfg *project.Config, opts project.ValidateOptions) (*plan, error) {
	if err := cfg.Validate(opts); err != nil {
		return nil, err
	}

	if err := toolchain.Probe(ctx); err != nil {
		return nil, err
	}

	if err := toolchain.RunCompiler(ctx, cfg.Root, cfg.Compiler); err != nil {
		return nil, err
	}

	entries, err := assets.Collect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sfo, err := toolchain.GenerateSFO(ctx, cfg.ID, cfg.Title)
	if err != nil {
		return nil, err
	}

	return &plan{entries: entries, sfo: sfo}, nil
}

// emit streams the plan into sink: the renamed loader first, then the
// generated metadata, then the merged asset entries.
func emit(ctx context.Context, cfg *project.Config, p *plan, sink Sink) error {
	vlog.Log(ctx).Info().Msgf("staging %d files", len(p.entries))

	loader, err := os.Open(cfg.LoaderPath())
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "could not open %s", cfg.LoaderPath())
		}
		// only reachable with the loader check suppressed
		vlog.Log(ctx).Warn().Msgf("no %s found, the package will not contain an eboot.bin", cfg.LoaderName())
	} else {
		err = sink.WriteFile("eboot.bin", loader)
		loader.Close()
		if err != nil {
			return err
		}
	}

	if err := sink.WriteFile("sce_sys/param.sfo", bytes.NewReader(p.sfo)); err != nil {
		return err
	}

	for _, entry := range p.entries {
		if err := stageEntry(ctx, entry, sink); err != nil {
			return err
		}
	}

	return nil
}

func stageEntry(ctx context.Context, entry assets.Entry, sink Sink) error {
	if entry.Recompress {
		data, err := os.ReadFile(entry.Source)
		if err != nil {
			return eris.Wrapf(err, "could not read %s", entry.Source)
		}

		out, err := assets.RecompressImage(data, filepath.Ext(entry.Path))
		if err != nil {
			return eris.Wrapf(err, "failed to recompress %s", entry.Source)
		}

		if len(out) < len(data) {
			vlog.Log(ctx).Debug().Str("path", entry.Path).
				Msgf("recompressed %d -> %d bytes", len(data), len(out))
		}

		return sink.WriteFile(entry.Path, bytes.NewReader(out))
	}

	hdl, err := os.Open(entry.Source)
	if err != nil {
		return eris.Wrapf(err, "could not open %s", entry.Source)
	}
	defer hdl.Close()

	return sink.WriteFile(entry.Path, hdl)
}

// Build runs the full pipeline and packages the result into
// <outDir>/<title>.vpk. Previous build output is replaced.
func Build(ctx context.Context, cfg *project.Config, skipLoader bool) (string, error) {
	p, err := prepare(ctx, cfg, project.ValidateOptions{SkipLoader: skipLoader})
	if err != nil {
		return "", err
	}

	if err := resetDir(cfg.OutPath()); err != nil {
		return "", err
	}

	target := filepath.Join(cfg.OutPath(), cfg.Title+".vpk")
	writer, err := vpk.NewWriter(target)
	if err != nil {
		return "", err
	}

	if err := emit(ctx, cfg, p, writer); err != nil {
		writer.Close()
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	vlog.Log(ctx).Info().Msgf("wrote %s", target)
	return target, nil
}

// Stage runs the full pipeline into the staging directory and returns its
// path. The caller is responsible for cleaning the directory up.
func Stage(ctx context.Context, cfg *project.Config, opts project.ValidateOptions) (string, error) {
	p, err := prepare(ctx, cfg, opts)
	if err != nil {
		return "", err
	}

	staging := cfg.TempPath()
	if err := resetDir(staging); err != nil {
		return "", err
	}

	if err := emit(ctx, cfg, p, NewDirSink(staging)); err != nil {
		return "", err
	}

	vlog.Log(ctx).Info().Msgf("staged the package in %s", staging)
	return staging, nil
}

// resetDir clears dir and recreates it empty.
func resetDir(dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to clear %s", dir)
	}

	err = os.MkdirAll(dir, os.FileMode(0770))
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dir)
	}

	return nil
}
