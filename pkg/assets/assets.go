// Package assets gathers the three file sets that make up a package
// (compiled sources, system files, user files) and merges them into one
// deterministic staging plan.
package assets

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// Entry is one file scheduled for staging.
type Entry struct {
	// Path is the slash-separated location inside the package.
	Path string
	// Source is the absolute location on disk.
	Source string
	// Recompress marks raster images from the system and user sets.
	Recompress bool
}

// Set is a named group of entries; later sets win path collisions.
type Set struct {
	Name    string
	Entries []Entry
}

// Reserved paths are produced by the packager itself and can never be
// shadowed by gathered files.
var Reserved = map[string]bool{
	"eboot.bin":         true,
	"sce_sys/param.sfo": true,
}

// loader binaries live in the system directory but are staged separately
// (renamed to eboot.bin), so the system set skips them.
var loaderNames = map[string]bool{
	"eboot_safe.bin":       true,
	"eboot_unsafe.bin":     true,
	"eboot_unsafe_sys.bin": true,
}

// Collect gathers all three sets for the given project and merges them.
// The compiled tree must exist (the compiler just ran); a missing system
// directory only yields an empty system set.
func Collect(ctx context.Context, cfg *project.Config) ([]Entry, error) {
	compiled, err := collectTree(cfg.SourcePath(), false, nil)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "the compiler left no output in %s", cfg.SourcePath())
		}
		return nil, err
	}

	system, err := collectTree(cfg.SystemPath(), true, func(rel string) bool {
		return loaderNames[rel]
	})
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return nil, err
	}

	user, err := collectUserFiles(cfg.Root, cfg.Files)
	if err != nil {
		return nil, err
	}

	return Merge(ctx,
		Set{Name: "compiled", Entries: compiled},
		Set{Name: "system", Entries: system},
		Set{Name: "user", Entries: user},
	), nil
}

// Merge flattens the given sets into one sorted plan. On a path collision
// the entry from the later set wins; the loser is logged. Entries matching
// a reserved packager path are dropped.
func Merge(ctx context.Context, sets ...Set) []Entry {
	merged := map[string]Entry{}
	for _, set := range sets {
		for _, entry := range set.Entries {
			if Reserved[entry.Path] {
				vlog.Log(ctx).Warn().Str("path", entry.Path).
					Msgf("%s file %s collides with a generated file and is skipped", set.Name, entry.Source)
				continue
			}

			if prev, ok := merged[entry.Path]; ok {
				vlog.Log(ctx).Warn().Str("path", entry.Path).
					Msgf("%s file %s overrides %s", set.Name, entry.Source, prev.Source)
			}
			merged[entry.Path] = entry
		}
	}

	paths := make([]string, 0, len(merged))
	for path := range merged {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	result := make([]Entry, len(paths))
	for idx, path := range paths {
		result[idx] = merged[path]
	}

	return result
}

func collectTree(base string, recompress bool, skip func(rel string) bool) ([]Entry, error) {
	if _, err := os.Stat(base); err != nil {
		return nil, eris.Wrapf(err, "could not read directory %s", base)
	}

	entries := []Entry{}
	err := filepath.WalkDir(base, func(path string, item fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if item.IsDir() || !item.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}

		entries = append(entries, Entry{
			Path:       rel,
			Source:     path,
			Recompress: recompress && IsRasterImage(rel),
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to scan %s", base)
	}

	return entries, nil
}

func collectUserFiles(root string, patterns []string) ([]Entry, error) {
	entries := []Entry{}
	seen := map[string]bool{}
	add := func(entry Entry) {
		if !seen[entry.Path] {
			seen[entry.Path] = true
			entries = append(entries, entry)
		}
	}

	for _, pattern := range patterns {
		fullPattern := filepath.ToSlash(filepath.Join(root, pattern))
		matches, err := doublestar.FilepathGlob(fullPattern)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid files pattern %q", pattern)
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, eris.Wrapf(err, "could not read match %s", match)
			}

			if info.IsDir() {
				// a pattern naming a directory pulls in its whole subtree
				subtree, err := collectTree(match, true, nil)
				if err != nil {
					return nil, err
				}

				prefix, err := filepath.Rel(root, match)
				if err != nil {
					return nil, eris.Wrapf(err, "match %s is outside the project", match)
				}
				prefix = filepath.ToSlash(prefix)

				for _, entry := range subtree {
					entry.Path = prefix + "/" + entry.Path
					add(entry)
				}
				continue
			}

			rel, err := filepath.Rel(root, match)
			if err != nil {
				return nil, eris.Wrapf(err, "match %s is outside the project", match)
			}

			rel = filepath.ToSlash(rel)
			add(Entry{
				Path:       rel,
				Source:     match,
				Recompress: IsRasterImage(rel),
			})
		}
	}

	return entries, nil
}
