// Package watch re-runs a deployment whenever the project tree changes.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

// DeployFunc runs one full deployment.
type DeployFunc func(context.Context) error

// directories that only ever contain generated or vendored files
var skipNames = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Run watches the project tree and calls deploy once changes settle for
// the debounce interval. It blocks until ctx is cancelled or the watcher
// breaks down.
func Run(ctx context.Context, cfg *project.Config, debounce time.Duration, deploy DeployFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to initialize the file watcher")
	}
	defer watcher.Close()

	prefixes := skipPrefixes(cfg)
	err = addTree(watcher, cfg.Root, prefixes)
	if err != nil {
		return err
	}

	events := make(chan string)
	go forward(ctx, watcher, prefixes, events)

	vlog.PrintTask("Watching " + cfg.Root)
	runLoop(ctx, events, debounce, deploy)
	return nil
}

// forward filters raw watcher events and passes the interesting ones on.
func forward(ctx context.Context, watcher *fsnotify.Watcher, prefixes []string, events chan<- string) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if skipped(event.Name, prefixes) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// directories born after the initial scan need their own watch
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					addTree(watcher, event.Name, prefixes)
				}
			}

			select {
			case events <- event.Name:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			vlog.Log(ctx).Warn().Msgf("watch error: %v", err)
		}
	}
}

// runLoop debounces change notifications and serializes deployments.
// Changes that arrive while a deployment is running are coalesced into a
// single follow-up run; a failed run keeps the loop alive.
func runLoop(ctx context.Context, events <-chan string, debounce time.Duration, deploy DeployFunc) {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	done := make(chan error)
	deploying := false
	dirty := false

	start := func() {
		deploying = true
		dirty = false
		go func() {
			done <- deploy(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if deploying {
				<-done
			}
			return

		case name, ok := <-events:
			if !ok {
				if deploying {
					<-done
				}
				return
			}

			vlog.Log(ctx).Debug().Msgf("change in %s", name)
			if deploying {
				dirty = true
				continue
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case <-timer.C:
			start()

		case err := <-done:
			deploying = false
			if err != nil {
				vlog.Log(ctx).Error().Err(err).Msg("deploy failed, waiting for more changes")
			}
			if dirty {
				timer.Reset(debounce)
			}
		}
	}
}

// skipPrefixes lists the directories whose contents this tool generates
// itself. Watching them would make every deployment trigger the next one.
func skipPrefixes(cfg *project.Config) []string {
	return []string{cfg.OutPath(), cfg.TempPath(), cfg.SourcePath()}
}

func skipped(p string, prefixes []string) bool {
	slashed := filepath.ToSlash(p)
	for _, prefix := range prefixes {
		sp := filepath.ToSlash(prefix)
		if slashed == sp || strings.HasPrefix(slashed, sp+"/") {
			return true
		}
	}

	for _, part := range strings.Split(slashed, "/") {
		if skipNames[part] {
			return true
		}
	}

	return false
}

func addTree(watcher *fsnotify.Watcher, root string, prefixes []string) error {
	err := filepath.WalkDir(root, func(p string, item fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !item.IsDir() {
			return nil
		}
		if p != root && skipped(p, prefixes) {
			return filepath.SkipDir
		}

		return watcher.Add(p)
	})
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", root)
	}

	return nil
}
