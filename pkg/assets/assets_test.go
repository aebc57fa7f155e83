package assets

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return vlog.WithLogger(context.Background(), &logger)
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
	cfg.Files = []string{"assets/**", "data/config.txt", "index.lua"}

	touch(t, filepath.Join(cfg.SourcePath(), "main.lua"), "compiled main")
	touch(t, filepath.Join(cfg.SourcePath(), "index.lua"), "compiled index")
	touch(t, filepath.Join(cfg.SourcePath(), "lib", "util.lua"), "compiled util")
	touch(t, filepath.Join(cfg.SourcePath(), "gen.png"), "compiled png")

	touch(t, filepath.Join(cfg.SystemPath(), "sce_sys", "icon0.png"), "icon bytes")
	touch(t, filepath.Join(cfg.SystemPath(), "eboot_safe.bin"), "loader")
	touch(t, filepath.Join(cfg.SystemPath(), "index.lua"), "system index")

	touch(t, filepath.Join(cfg.Root, "assets", "sprite.png"), "sprite")
	touch(t, filepath.Join(cfg.Root, "assets", "deep", "tile.bmp"), "tile")
	touch(t, filepath.Join(cfg.Root, "data", "config.txt"), "cfg")
	touch(t, filepath.Join(cfg.Root, "index.lua"), "user index")

	return &cfg
}

func entryMap(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		out[entry.Path] = entry
	}

	return out
}

func TestCollect(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	entries, err := Collect(testContext(), cfg)
	require.NoError(t, err)

	byPath := entryMap(entries)
	assert.Contains(t, byPath, "main.lua")
	assert.Contains(t, byPath, "lib/util.lua")
	assert.Contains(t, byPath, "sce_sys/icon0.png")
	assert.Contains(t, byPath, "assets/sprite.png")
	assert.Contains(t, byPath, "assets/deep/tile.bmp")
	assert.Contains(t, byPath, "data/config.txt")
	assert.NotContains(t, byPath, "eboot_safe.bin", "loader binaries are staged separately")

	assert.Equal(t, filepath.Join(cfg.Root, "index.lua"), byPath["index.lua"].Source,
		"user files win over system and compiled files")

	assert.False(t, byPath["main.lua"].Recompress)
	assert.False(t, byPath["gen.png"].Recompress, "compiled output is never recompressed")
	assert.True(t, byPath["sce_sys/icon0.png"].Recompress)
	assert.True(t, byPath["assets/sprite.png"].Recompress)
	assert.True(t, byPath["assets/deep/tile.bmp"].Recompress)
	assert.False(t, byPath["data/config.txt"].Recompress)

	paths := make([]string, len(entries))
	for idx, entry := range entries {
		paths[idx] = entry.Path
	}
	assert.True(t, sort.StringsAreSorted(paths), "the plan must be deterministic")
}

func TestCollectMissingCompiledTree(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	require.NoError(t, os.RemoveAll(cfg.SourcePath()))

	_, err := Collect(testContext(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiler left no output")
}

func TestCollectMissingSystemDir(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	require.NoError(t, os.RemoveAll(cfg.SystemPath()))

	entries, err := Collect(testContext(), cfg)
	require.NoError(t, err)
	assert.NotContains(t, entryMap(entries), "sce_sys/icon0.png")
}

func TestCollectDirectoryPattern(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	cfg.Files = []string{"assets"}

	entries, err := Collect(testContext(), cfg)
	require.NoError(t, err)

	byPath := entryMap(entries)
	assert.Contains(t, byPath, "assets/sprite.png")
	assert.Contains(t, byPath, "assets/deep/tile.bmp")
}

func TestCollectPatternWithoutMatches(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	cfg.Files = []string{"missing/**"}

	_, err := Collect(testContext(), cfg)
	require.NoError(t, err)
}

func TestCollectBadPattern(t *testing.T) {
	t.Parallel()

	cfg := fixtureProject(t)
	cfg.Files = []string{"["}

	_, err := Collect(testContext(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid files pattern")
}

func TestMergePrecedence(t *testing.T) {
	t.Parallel()

	compiled := Set{Name: "compiled", Entries: []Entry{
		{Path: "index.lua", Source: "/c/index.lua"},
		{Path: "only.lua", Source: "/c/only.lua"},
	}}
	system := Set{Name: "system", Entries: []Entry{
		{Path: "index.lua", Source: "/s/index.lua"},
	}}
	user := Set{Name: "user", Entries: []Entry{
		{Path: "index.lua", Source: "/u/index.lua"},
	}}

	merged := Merge(testContext(), compiled, system)
	assert.Equal(t, "/s/index.lua", entryMap(merged)["index.lua"].Source)

	merged = Merge(testContext(), compiled, system, user)
	byPath := entryMap(merged)
	assert.Equal(t, "/u/index.lua", byPath["index.lua"].Source)
	assert.Contains(t, byPath, "only.lua")
	assert.Len(t, merged, 2)
}

func TestMergeDropsReservedPaths(t *testing.T) {
	t.Parallel()

	set := Set{Name: "user", Entries: []Entry{
		{Path: "eboot.bin", Source: "/u/eboot.bin"},
		{Path: "sce_sys/param.sfo", Source: "/u/param.sfo"},
		{Path: "ok.txt", Source: "/u/ok.txt"},
	}}

	merged := Merge(testContext(), set)
	require.Len(t, merged, 1)
	assert.Equal(t, "ok.txt", merged[0].Path)
}
