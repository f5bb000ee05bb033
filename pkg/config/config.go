// Package config loads the tool configuration. Settings are layered the
// usual way: built-in defaults, then the project's mtool.yml, then MTOOL_*
// environment variables, then command line flags.
package config

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"

	"github.com/pihop/means/pkg"
	"github.com/pihop/means/pkg/vcs"
)

const envPrefix = "MTOOL_"

// Config holds the resolved tool configuration. All paths are absolute.
type Config struct {
	ProjectRoot string `koanf:"-"`

	// Python is the base interpreter used to create the venv.
	Python string `koanf:"python"`
	// PythonMinVersion is the minimum interpreter version, e.g. "3.7".
	PythonMinVersion string `koanf:"python_min_version"`

	VenvDir      string `koanf:"venv_dir"`
	OutputDir    string `koanf:"output_dir"`
	Requirements string `koanf:"requirements"`
	DepsFile     string `koanf:"deps_file"`
	StateFile    string `koanf:"state_file"`
	TaskScript   string `koanf:"task_script"`

	// Checkouts lists the external working copies that mtool sync maintains.
	Checkouts []vcs.Checkout `koanf:"checkouts"`
}

// Load reads the configuration for the project that contains the current
// working directory. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	root, err := pkg.GetProjectRoot()
	if err != nil {
		return nil, err
	}

	return LoadFrom(root, flags)
}

// LoadFrom reads the configuration for the project rooted at the given
// directory.
func LoadFrom(root string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	err := k.Load(confmap.Provider(map[string]interface{}{
		"python":             "python3",
		"python_min_version": "",
		"venv_dir":           ".venv",
		"output_dir":         "output",
		"requirements":       "requirements.txt",
		"deps_file":          "DEPS.yml",
		"state_file":         ".mtool-state.db",
		"task_script":        "tasks.star",
	}, "."), nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load defaults")
	}

	cfgFile := filepath.Join(root, pkg.ConfigFileName)
	err = k.Load(file.Provider(cfgFile), yaml.Parser())
	if err != nil && !strings.Contains(err.Error(), "no such file") {
		return nil, eris.Wrapf(err, "failed to read %s", cfgFile)
	}

	err = k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load environment variables")
	}

	if flags != nil {
		err = k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}

			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil)
		if err != nil {
			return nil, eris.Wrap(err, "failed to load flags")
		}
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode configuration")
	}

	cfg.ProjectRoot = root
	cfg.VenvDir = resolve(cfg.VenvDir, root)
	cfg.OutputDir = resolve(cfg.OutputDir, root)
	cfg.Requirements = resolve(cfg.Requirements, root)
	cfg.DepsFile = resolve(cfg.DepsFile, root)
	cfg.StateFile = resolve(cfg.StateFile, root)
	cfg.TaskScript = resolve(cfg.TaskScript, root)

	for idx := range cfg.Checkouts {
		co := &cfg.Checkouts[idx]
		co.Dest = resolve(co.Dest, root)
		if co.Name == "" {
			co.Name = filepath.Base(co.Dest)
		}
	}

	return &cfg, nil
}

func resolve(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
