// Package fetch downloads prebuilt lpp-vita loader binaries described by
// a YAML manifest and drops them into the project's system directory.
package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/fatihdgn/tstlpp-vita/pkg/project"
	"github.com/fatihdgn/tstlpp-vita/pkg/vlog"
)

const (
	// DefaultManifestName is the manifest picked up next to the project
	// descriptor when no explicit path is given.
	DefaultManifestName = "vita-loaders.yml"

	stampsName      = ".loaders.stamps"
	downloadTimeout = 30 * time.Minute
)

// LoaderSpec describes one downloadable loader binary.
type LoaderSpec struct {
	URL    string `yaml:"url"`
	Sha256 string `yaml:"sha256"`
	// Path selects the file inside the archive; required for archive URLs.
	Path string `yaml:"path,omitempty"`
	// Dest overrides the target path, relative to the project root.
	Dest string `yaml:"dest,omitempty"`
}

// Manifest is the parsed vita-loaders.yml.
type Manifest struct {
	Loaders map[string]LoaderSpec `yaml:"loaders"`
}

// LoadManifest reads and parses a loader manifest.
func LoadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, eris.Wrapf(err, "could not read the loader manifest %s", manifestPath)
	}

	var manifest Manifest
	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", manifestPath)
	}

	return &manifest, nil
}

// Run downloads every loader listed in the manifest at manifestPath.
// A loader is skipped when the stamp from a previous run still matches
// its url and checksum and the destination file exists; force overrides
// that. Stamps are persisted next to the manifest even on failure so
// finished downloads are not repeated.
func Run(ctx context.Context, cfg *project.Config, manifestPath string, force bool) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if len(manifest.Loaders) == 0 {
		vlog.Log(ctx).Warn().Msgf("%s lists no loaders", manifestPath)
		return nil
	}

	stampPath := filepath.Join(filepath.Dir(manifestPath), stampsName)
	stamps, err := loadStamps(stampPath)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: downloadTimeout}

	names := make([]string, 0, len(manifest.Loaders))
	for name := range manifest.Loaders {
		names = append(names, name)
	}
	sort.Strings(names)

	var failure error
	for _, name := range names {
		spec := manifest.Loaders[name]
		dest := destPath(cfg, name, spec)

		token := spec.URL + "#" + spec.Sha256
		if !force && stamps[name] == token {
			if _, err := os.Stat(dest); err == nil {
				vlog.Log(ctx).Debug().Msgf("%s is up to date", name)
				continue
			}
		}

		failure = fetchOne(ctx, client, name, spec, dest)
		if failure != nil {
			break
		}
		stamps[name] = token
	}

	err = saveStamps(stampPath, stamps)
	if err != nil {
		vlog.PrintError(err.Error())
	}

	return failure
}

func fetchOne(ctx context.Context, client *http.Client, name string, spec LoaderSpec, dest string) error {
	vlog.PrintSubtask(name + ":  " + spec.URL)
	if spec.Sha256 == "" {
		return eris.Errorf("loader %s has no sha256 checksum", name)
	}

	tmp, err := download(ctx, client, spec.URL, spec.Sha256)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	return install(tmp, spec, dest, name)
}

func download(ctx context.Context, client *http.Client, url, expected string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrapf(err, "could not build a request for %s", url)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "failed to start the download of %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("the download of %s failed with status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "loader-*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "failed to create a download buffer file")
	}
	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			os.Remove(tmp.Name())
		}
	}()

	hash := sha256.New()
	bar := vlog.ProgressBar(resp.ContentLength, "      download")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				break
			}
			return "", eris.Wrapf(err, "the download of %s failed", url)
		}

		hash.Write(buf[:n])
		_, err = tmp.Write(buf[:n])
		if err != nil {
			return "", eris.Wrap(err, "failed to buffer the download")
		}
		bar.Write(buf[:n])
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != expected {
		return "", eris.Errorf("the checksum of %s does not match (expected %s, got %s)", url, expected, digest)
	}

	ok = true
	return tmp.Name(), nil
}

func install(archive string, spec LoaderSpec, dest, name string) error {
	err := os.MkdirAll(filepath.Dir(dest), os.FileMode(0770))
	if err != nil {
		return eris.Wrapf(err, "failed to create the directory for %s", dest)
	}

	switch {
	case strings.HasSuffix(spec.URL, ".zip"):
		if spec.Path == "" {
			return eris.Errorf("loader %s points at an archive and needs a path entry", name)
		}
		return extractZipEntry(archive, spec.Path, dest)

	case strings.HasSuffix(spec.URL, ".tar.gz"),
		strings.HasSuffix(spec.URL, ".tar.bz2"),
		strings.HasSuffix(spec.URL, ".tar.xz"):
		if spec.Path == "" {
			return eris.Errorf("loader %s points at an archive and needs a path entry", name)
		}
		return extractTarEntry(archive, spec.URL, spec.Path, dest)

	default:
		return copyFile(archive, dest)
	}
}

func extractZipEntry(archive, entry, dest string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return eris.Wrap(err, "failed to open the downloaded archive")
	}
	defer reader.Close()

	want := path.Clean(entry)
	for _, item := range reader.File {
		if path.Clean(item.Name) != want {
			continue
		}

		hdl, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "failed to open the archive entry %s", item.Name)
		}
		defer hdl.Close()

		return writeFile(dest, hdl)
	}

	return eris.Errorf("the archive does not contain %s", entry)
}

func extractTarEntry(archive, url, entry, dest string) error {
	hdl, err := os.Open(archive)
	if err != nil {
		return eris.Wrap(err, "failed to open the downloaded archive")
	}
	defer hdl.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(url, ".tar.gz"):
		gz, err := gzip.NewReader(hdl)
		if err != nil {
			return eris.Wrap(err, "failed to open the downloaded archive")
		}
		defer gz.Close()
		reader = gz

	case strings.HasSuffix(url, ".tar.bz2"):
		reader = bzip2.NewReader(hdl)

	default:
		xzReader, err := xz.NewReader(hdl)
		if err != nil {
			return eris.Wrap(err, "failed to open the downloaded archive")
		}
		reader = xzReader
	}

	want := path.Clean(entry)
	items := tar.NewReader(reader)
	for {
		item, err := items.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrap(err, "failed to read the archive")
		}

		if item.Typeflag != tar.TypeReg || path.Clean(item.Name) != want {
			continue
		}

		return writeFile(dest, items)
	}

	return eris.Errorf("the archive does not contain %s", entry)
}

func writeFile(dest string, source io.Reader) error {
	hdl, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(hdl, source)
	if err != nil {
		hdl.Close()
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	err = hdl.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	return nil
}

func copyFile(source, dest string) error {
	hdl, err := os.Open(source)
	if err != nil {
		return eris.Wrap(err, "failed to reopen the download")
	}
	defer hdl.Close()

	return writeFile(dest, hdl)
}

func loadStamps(stampPath string) (map[string]string, error) {
	stamps := map[string]string{}
	data, err := os.ReadFile(stampPath)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "failed to read the stamp file %s", stampPath)
	}

	err = json.Unmarshal(data, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse the stamp file %s", stampPath)
	}

	return stamps, nil
}

func saveStamps(stampPath string, stamps map[string]string) error {
	data, err := json.Marshal(stamps)
	if err != nil {
		return eris.Wrap(err, "failed to serialize the loader stamps")
	}

	err = os.WriteFile(stampPath, data, os.FileMode(0660))
	if err != nil {
		return eris.Wrapf(err, "could not update %s", stampPath)
	}

	return nil
}

func destPath(cfg *project.Config, name string, spec LoaderSpec) string {
	if spec.Dest != "" {
		return filepath.Join(cfg.Root, filepath.FromSlash(spec.Dest))
	}

	return filepath.Join(cfg.SystemPath(), "eboot_"+name+".bin")
}
