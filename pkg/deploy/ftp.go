package deploy

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"

	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

const ftpTimeout = 30 * time.Second

// apps are installed at ux0:/app/<id> on the memory card
var remoteRoot = []string{"ux0:", "app"}

// FTPUploader pushes a staged directory tree through the vitacompanion
// FTP server.
type FTPUploader struct {
	Address string
	Timeout time.Duration
}

// Push mirrors stagingDir below the fixed remote app directory for appID,
// creating remote directories as needed.
func (u *FTPUploader) Push(ctx context.Context, stagingDir, appID string) error {
	files, err := collectFiles(stagingDir)
	if err != nil {
		return err
	}

	conn, err := ftp.Dial(u.Address, ftp.DialWithContext(ctx), ftp.DialWithTimeout(u.Timeout))
	if err != nil {
		return eris.Wrapf(err, "failed to connect to %s (is vitacompanion running?)", u.Address)
	}
	defer conn.Quit()

	err = conn.Login("anonymous", "anonymous")
	if err != nil {
		return eris.Wrap(err, "the ftp login was rejected")
	}

	for _, dir := range append(append([]string{}, remoteRoot...), appID) {
		err = enterOrCreate(conn, dir)
		if err != nil {
			return err
		}
	}

	vlog.Log(ctx).Info().Msgf("uploading %d files to %s", len(files), u.Address)

	created := map[string]bool{}
	for _, rel := range files {
		for _, dir := range parentDirs(rel) {
			if !created[dir] {
				created[dir] = true
				// fails when the directory already exists, which is fine
				conn.MakeDir(dir)
			}
		}

		err = storeFile(conn, stagingDir, rel)
		if err != nil {
			return err
		}
	}

	return nil
}

func enterOrCreate(conn *ftp.ServerConn, dir string) error {
	if err := conn.ChangeDir(dir); err == nil {
		return nil
	}

	if err := conn.MakeDir(dir); err != nil {
		return eris.Wrapf(err, "failed to create the remote directory %s", dir)
	}

	if err := conn.ChangeDir(dir); err != nil {
		return eris.Wrapf(err, "failed to enter the remote directory %s", dir)
	}

	return nil
}

func storeFile(conn *ftp.ServerConn, base, rel string) error {
	hdl, err := os.Open(filepath.Join(base, filepath.FromSlash(rel)))
	if err != nil {
		return eris.Wrapf(err, "could not open the staged file %s", rel)
	}
	defer hdl.Close()

	info, err := hdl.Stat()
	if err != nil {
		return eris.Wrapf(err, "could not stat the staged file %s", rel)
	}

	bar := vlog.ProgressBar(info.Size(), "      "+rel)
	err = conn.Stor(rel, io.TeeReader(hdl, bar))
	bar.Finish()
	if err != nil {
		return eris.Wrapf(err, "failed to upload %s", rel)
	}

	return nil
}

// collectFiles lists every regular file below base as a sorted,
// slash-separated relative path.
func collectFiles(base string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(base, func(p string, item fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if item.IsDir() || !item.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to scan the staging directory %s", base)
	}

	sort.Strings(files)
	return files, nil
}

// parentDirs returns the directory prefixes of rel, parents first.
func parentDirs(rel string) []string {
	dirs := []string{}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		dirs = append(dirs, dir)
	}

	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}

	return dirs
}
