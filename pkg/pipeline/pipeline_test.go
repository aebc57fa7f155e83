package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/toolchain"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return vlog.WithLogger(context.Background(), &logger)
}

func fakeMksfoex(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fixture needs a POSIX shell")
	}

	script := filepath.Join(t.TempDir(), "vita-mksfoex")
	body := "#!/bin/sh\nfor a in \"$@\"; do out=\"$a\"; done\nprintf 'PSF0' > \"$out\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	t.Setenv(toolchain.EnvMksfoex, script)
}

func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func touch(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o770))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o660))
}

func fixtureProject(t *testing.T) *project.Config {
	t.Helper()

	cfg := project.Defaults()
	cfg.ID = "HELLOWRLD"
	cfg.Title = "Hello World"
	cfg.Root = t.TempDir()
	cfg.Compiler = `printf 'print("hi")' > out-src/main.lua`
	cfg.Files = []string{"assets/**"}

	require.NoError(t, os.MkdirAll(cfg.SourcePath(), 0o770))
	touch(t, cfg.LoaderPath(), "LOADER")
	touch(t, filepath.Join(cfg.Root, "assets", "readme.txt"), "hello")

	iconPath := filepath.Join(cfg.SystemPath(), "sce_sys", "icon0.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(iconPath), 0o770))
	require.NoError(t, os.WriteFile(iconPath, noisePNG(t, 64, 64), 0o660))

	return &cfg
}

func readArchive(t *testing.T, target string) map[string][]byte {
	t.Helper()

	archive, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer archive.Close()

	contents := map[string][]byte{}
	for _, item := range archive.File {
		hdl, err := item.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(hdl)
		require.NoError(t, err)
		hdl.Close()
		contents[item.Name] = data
	}

	return contents
}

func TestBuild(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	touch(t, filepath.Join(cfg.OutPath(), "old.vpk"), "stale")

	target, err := Build(testContext(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutPath(), "Hello World.vpk"), target)

	_, err = os.Stat(filepath.Join(cfg.OutPath(), "old.vpk"))
	assert.True(t, os.IsNotExist(err), "previous build artifacts are replaced")

	contents := readArchive(t, target)
	assert.Equal(t, []byte("LOADER"), contents["eboot.bin"])
	assert.Equal(t, []byte("PSF0"), contents["sce_sys/param.sfo"])
	assert.Equal(t, []byte(`print("hi")`), contents["main.lua"])
	assert.Equal(t, []byte("hello"), contents["assets/readme.txt"])

	icon := contents["sce_sys/icon0.png"]
	require.NotEmpty(t, icon)
	source, err := os.ReadFile(filepath.Join(cfg.SystemPath(), "sce_sys", "icon0.png"))
	require.NoError(t, err)
	assert.Less(t, len(icon), len(source), "the packaged icon must be recompressed")
	assert.NotEqual(t, source, icon)
	_, err = png.Decode(bytes.NewReader(icon))
	require.NoError(t, err, "the packaged icon must still decode")
}

func TestBuildInvalidIDFailsBeforeAnySideEffect(t *testing.T) {
	t.Setenv(toolchain.EnvMksfoex, filepath.Join(t.TempDir(), "missing-tool"))

	cfg := fixtureProject(t)
	cfg.ID = "lowercase"
	touch(t, filepath.Join(cfg.OutPath(), "keep.txt"), "keep")

	_, err := Build(testContext(), cfg, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, project.ErrInvalidID))

	data, err := os.ReadFile(filepath.Join(cfg.OutPath(), "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data), "validation failures must not touch the output directory")
}

func TestBuildMissingLoaderFailsBeforeCompiling(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	require.NoError(t, os.Remove(cfg.LoaderPath()))

	_, err := Build(testContext(), cfg, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, project.ErrMissingLoader))

	_, statErr := os.Stat(filepath.Join(cfg.SourcePath(), "main.lua"))
	assert.True(t, os.IsNotExist(statErr), "the compiler must not run when validation fails")
}

func TestBuildCompilerFailureKeepsOutDir(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	cfg.Compiler = "false"
	touch(t, filepath.Join(cfg.OutPath(), "keep.txt"), "keep")

	_, err := Build(testContext(), cfg, false)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(cfg.OutPath(), "keep.txt"))
	assert.NoError(t, statErr, "output is only cleared once the pipeline front half succeeded")
}

func TestStage(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	touch(t, filepath.Join(cfg.TempPath(), "stale.txt"), "stale")

	staging, err := Stage(testContext(), cfg, project.ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, cfg.TempPath(), staging)

	_, err = os.Stat(filepath.Join(staging, "stale.txt"))
	assert.True(t, os.IsNotExist(err), "staging starts from a clean directory")

	data, err := os.ReadFile(filepath.Join(staging, "eboot.bin"))
	require.NoError(t, err)
	assert.Equal(t, "LOADER", string(data))

	data, err = os.ReadFile(filepath.Join(staging, "sce_sys", "param.sfo"))
	require.NoError(t, err)
	assert.Equal(t, "PSF0", string(data))

	data, err = os.ReadFile(filepath.Join(staging, "main.lua"))
	require.NoError(t, err)
	assert.Equal(t, `print("hi")`, string(data))
}

func TestStageWithoutLoaderWhenSuppressed(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	require.NoError(t, os.Remove(cfg.LoaderPath()))

	staging, err := Stage(testContext(), cfg, project.ValidateOptions{SkipLoader: true})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(staging, "eboot.bin"))
	assert.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(filepath.Join(staging, "sce_sys", "param.sfo"))
	assert.NoError(t, statErr)
}

func TestDirSink(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	sink := NewDirSink(base)

	require.NoError(t, sink.WriteFile("sce_sys/livearea/bg.png", strings.NewReader("bg")))

	data, err := os.ReadFile(filepath.Join(base, "sce_sys", "livearea", "bg.png"))
	require.NoError(t, err)
	assert.Equal(t, "bg", string(data))
}

func TestDirSinkRejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	sink := NewDirSink(base)

	for _, name := range []string{".", "/", "/etc/passwd", "../escape.txt", "a/../.."} {
		assert.Error(t, sink.WriteFile(name, strings.NewReader("x")), "name %q", name)
	}

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected names must not leave files behind")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(base), "escape.txt"))
}

func TestStageRejectsFilesOutsideTheProject(t *testing.T) {
	fakeMksfoex(t)
	cfg := fixtureProject(t)
	cfg.Files = append(cfg.Files, "../shared/*.lua")

	outside := filepath.Join(filepath.Dir(cfg.Root), "shared")
	touch(t, filepath.Join(outside, "extra.lua"), "shared code")

	_, err := Stage(testContext(), cfg, project.ValidateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid staging path")

	assert.NoFileExists(t, filepath.Join(cfg.Root, "shared", "extra.lua"),
		"nothing may be written outside the staging directory")
}
