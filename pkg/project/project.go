// Package project loads and validates the vita-project.json descriptor.
package project

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/tidwall/jsonc"
)

// DefaultConfigName is the descriptor filename expected in the project root.
const DefaultConfigName = "vita-project.json"

// Package types understood by the loader selection. The type picks which
// eboot variant ends up in the package and thereby which syscalls the app
// may use.
const (
	TypeSafe      = "safe"
	TypeUnsafe    = "unsafe"
	TypeUnsafeSys = "unsafe_sys"
)

// Validation failures are rooted in one of these so callers can check the
// exact condition with eris.Is.
var (
	ErrMissingFile   = eris.New("project file not found")
	ErrInvalidID     = eris.New("id invalid")
	ErrMissingTitle  = eris.New("title missing")
	ErrInvalidType   = eris.New("type invalid")
	ErrMissingLoader = eris.New("loader missing")
	ErrNoRemote      = eris.New("remote address not defined")
)

var idPattern = regexp.MustCompile(`^[A-Z0-9]{9}$`)

// Ports holds the two fixed vitacompanion ports.
type Ports struct {
	TransferPort int `json:"transferPort"`
	CommandPort  int `json:"commandPort"`
}

// CommandRetry bounds the reconnect behavior of the command channel.
type CommandRetry struct {
	Attempts        int `json:"attempts"`
	IntervalSeconds int `json:"intervalSeconds"`
}

// Config is the parsed project descriptor. All directory fields are
// relative to Root.
type Config struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	PackageType   string       `json:"packageType"`
	Compiler      string       `json:"compiler"`
	RemoteAddress string       `json:"remoteAddress"`
	Ports         Ports        `json:"ports"`
	CommandRetry  CommandRetry `json:"commandRetry"`
	SystemDir     string       `json:"systemDir"`
	SourceDir     string       `json:"sourceDir"`
	TempDir       string       `json:"tempDir"`
	OutDir        string       `json:"outDir"`
	Files         []string     `json:"files"`

	// Root is the directory that contains the descriptor.
	Root string `json:"-"`
}

// Defaults returns a config with every optional field filled in.
func Defaults() Config {
	return Config{
		PackageType: TypeSafe,
		Compiler:    "npx tstl",
		Ports: Ports{
			TransferPort: 1337,
			CommandPort:  1338,
		},
		CommandRetry: CommandRetry{
			Attempts:        3,
			IntervalSeconds: 5,
		},
		SystemDir: "system",
		SourceDir: "out-src",
		TempDir:   ".temp",
		OutDir:    "dist",
		Files:     []string{},
	}
}

// Load reads the descriptor at path and merges it over the defaults.
// Comments and trailing commas in the file are tolerated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(ErrMissingFile, "no project file at %s", path)
		}
		return nil, eris.Wrapf(err, "could not read project file %s", path)
	}

	cfg := Defaults()
	err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}
	cfg.applyFallbacks()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", path)
	}
	cfg.Root = filepath.Dir(absPath)

	return &cfg, nil
}

// applyFallbacks restores defaults for fields an explicit null or zero
// value would otherwise wipe out.
func (c *Config) applyFallbacks() {
	def := Defaults()
	if c.PackageType == "" {
		c.PackageType = def.PackageType
	}
	if c.Compiler == "" {
		c.Compiler = def.Compiler
	}
	if c.Ports.TransferPort == 0 {
		c.Ports.TransferPort = def.Ports.TransferPort
	}
	if c.Ports.CommandPort == 0 {
		c.Ports.CommandPort = def.Ports.CommandPort
	}
	if c.CommandRetry.Attempts == 0 {
		c.CommandRetry.Attempts = def.CommandRetry.Attempts
	}
	if c.CommandRetry.IntervalSeconds == 0 {
		c.CommandRetry.IntervalSeconds = def.CommandRetry.IntervalSeconds
	}
	if c.SystemDir == "" {
		c.SystemDir = def.SystemDir
	}
	if c.SourceDir == "" {
		c.SourceDir = def.SourceDir
	}
	if c.TempDir == "" {
		c.TempDir = def.TempDir
	}
	if c.OutDir == "" {
		c.OutDir = def.OutDir
	}
	if c.Files == nil {
		c.Files = []string{}
	}
}

func (c *Config) SystemPath() string { return filepath.Join(c.Root, c.SystemDir) }
func (c *Config) SourcePath() string { return filepath.Join(c.Root, c.SourceDir) }
func (c *Config) TempPath() string   { return filepath.Join(c.Root, c.TempDir) }
func (c *Config) OutPath() string    { return filepath.Join(c.Root, c.OutDir) }

// LoaderName returns the loader binary filename for the configured type.
func (c *Config) LoaderName() string {
	return "eboot_" + c.PackageType + ".bin"
}

// LoaderPath returns the expected on-disk location of the loader binary.
func (c *Config) LoaderPath() string {
	return filepath.Join(c.SystemPath(), c.LoaderName())
}

// ValidateOptions select which checks run. The loader check can be
// suppressed explicitly; the remote checks only matter for commands that
// talk to a device.
type ValidateOptions struct {
	SkipLoader bool
	NeedRemote bool
}

// Validate checks the descriptor without touching anything besides a stat
// of the loader binary. It returns on the first failed check.
func (c *Config) Validate(opts ValidateOptions) error {
	if !idPattern.MatchString(c.ID) {
		return eris.Wrapf(ErrInvalidID, "id %q must be exactly 9 uppercase letters or digits", c.ID)
	}

	if c.Title == "" {
		return eris.Wrap(ErrMissingTitle, "the title field must not be empty")
	}

	switch c.PackageType {
	case TypeSafe, TypeUnsafe, TypeUnsafeSys:
	default:
		return eris.Wrapf(ErrInvalidType, "packageType %q must be one of %s, %s or %s",
			c.PackageType, TypeSafe, TypeUnsafe, TypeUnsafeSys)
	}

	if !opts.SkipLoader {
		_, err := os.Stat(c.LoaderPath())
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(ErrMissingLoader,
					"expected %s; run `tstlpp-vita fetch-loaders` or grab it from a lpp-vita release",
					c.LoaderPath())
			}
			return eris.Wrapf(err, "could not check loader binary %s", c.LoaderPath())
		}
	}

	if opts.NeedRemote {
		if c.RemoteAddress == "" {
			return eris.Wrap(ErrNoRemote, "set remoteAddress to the IP shown by vitacompanion")
		}

		ip := net.ParseIP(c.RemoteAddress)
		if ip == nil || ip.To4() == nil {
			return eris.Wrapf(ErrNoRemote, "remoteAddress %q is not a valid IPv4 address", c.RemoteAddress)
		}
	}

	return nil
}
