// Package venv provisions the isolated Python environment the means test
// pipeline runs in. It shells out to the interpreter itself (python -m venv,
// pip) instead of reimplementing any of the environment layout.
package venv

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"

	"github.com/pihop/means/pkg/mlog"
)

const defaultPython = "python3"

// Env represents a virtual environment on disk.
type Env struct {
	Dir    string
	Python string
}

// Ensure returns the virtual environment at dir, creating it first if it
// doesn't exist yet. python is the base interpreter used for creation
// (defaults to python3); minVersion, if not empty, is a version constraint
// (i.e. ">= 3.7") the base interpreter has to satisfy.
func Ensure(ctx context.Context, dir, python, minVersion string) (*Env, error) {
	if python == "" {
		python = defaultPython
	}

	env := &Env{Dir: dir, Python: python}

	info, err := os.Stat(filepath.Join(dir, "pyvenv.cfg"))
	if err == nil && info.Mode().IsRegular() {
		return env, nil
	}
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(err, "failed to check %s", dir)
	}

	if minVersion != "" {
		version, err := InterpreterVersion(ctx, python)
		if err != nil {
			return nil, err
		}

		constraint, err := semver.NewConstraint(">= " + minVersion)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid version constraint %s", minVersion)
		}

		if !constraint.Check(version) {
			return nil, eris.Errorf("%s is version %s but at least %s is required", python, version, minVersion)
		}
	}

	mlog.Log(ctx).Info().Msgf("creating virtual environment at %s", dir)
	err = runTool(ctx, python, "-m", "venv", dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create virtual environment at %s", dir)
	}

	return env, nil
}

// BinDir returns the directory that holds the environment's executables.
func (e *Env) BinDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(e.Dir, "Scripts")
	}
	return filepath.Join(e.Dir, "bin")
}

// Interpreter returns the path of the environment's python binary.
func (e *Env) Interpreter() string {
	name := "python"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(e.BinDir(), name)
}

// Install runs pip install with the given arguments inside the environment.
func (e *Env) Install(ctx context.Context, args ...string) error {
	pipArgs := append([]string{"-m", "pip", "install"}, args...)
	err := runTool(ctx, e.Interpreter(), pipArgs...)
	if err != nil {
		return eris.Wrapf(err, "failed to install %s", strings.Join(args, " "))
	}
	return nil
}

// InstallRequirements installs every entry of the given requirements file.
func (e *Env) InstallRequirements(ctx context.Context, file string) error {
	return e.Install(ctx, "-r", file)
}

// Reinstall removes the given packages before installing them again, making
// sure a stale build doesn't survive. Uninstalling a package that was never
// installed is not an error; pip complains but the install proceeds.
func (e *Env) Reinstall(ctx context.Context, pkgs ...string) error {
	for _, pkg := range pkgs {
		err := runTool(ctx, e.Interpreter(), "-m", "pip", "uninstall", "-y", pkg)
		if err != nil {
			mlog.Log(ctx).Info().Msgf("%s was not installed yet", pkg)
		}
	}

	return e.Install(ctx, pkgs...)
}

// InterpreterVersion asks the given interpreter for its version.
func InterpreterVersion(ctx context.Context, python string) (*semver.Version, error) {
	cmd := exec.CommandContext(ctx, python, "--version")
	// old interpreters print the version on stderr
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to run %s --version", python)
	}

	return ParseVersionOutput(string(output))
}

// ParseVersionOutput parses the output of python --version ("Python 3.9.2").
func ParseVersionOutput(output string) (*semver.Version, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 2 || fields[0] != "Python" {
		return nil, eris.Errorf("unexpected version output %q", strings.TrimSpace(output))
	}

	version, err := semver.NewVersion(fields[1])
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse version %q", fields[1])
	}

	return version, nil
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
