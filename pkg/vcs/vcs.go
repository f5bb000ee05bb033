// Package vcs keeps working copies of external repositories up to date. The
// solver sources the means build depends on live in a third-party repository
// and are checked out next to the project instead of being vendored.
package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pihop/means/pkg/mlog"
)

// Checkout describes a single external working copy.
type Checkout struct {
	// Name identifies the checkout in logs and the state store.
	Name string `koanf:"name"`
	// VCS selects the backend, either "git" or "svn". Defaults to git.
	VCS    string `koanf:"vcs"`
	URL    string `koanf:"url"`
	Dest   string `koanf:"dest"`
	Branch string `koanf:"branch"`
}

// SyncResult reports what Sync did.
type SyncResult struct {
	// Created is true if the working copy was checked out fresh.
	Created bool
	// Revision is the working copy revision after the sync, if the backend
	// could determine it.
	Revision string
}

type backend interface {
	clone(ctx context.Context, co Checkout) error
	update(ctx context.Context, co Checkout) error
	revision(ctx context.Context, dest string) (string, error)
}

func backendFor(co Checkout) (backend, error) {
	switch co.VCS {
	case "", "git":
		return gitBackend{}, nil
	case "svn":
		return svnBackend{}, nil
	default:
		return nil, eris.Errorf("unsupported VCS %s for checkout %s", co.VCS, co.Name)
	}
}

// Sync makes sure the working copy described by co exists and is up to date.
// A missing destination is checked out fresh; checkout failures are fatal.
// If the destination already exists, it's updated instead and a failed update
// only logs a warning: the stale copy is still usable for a build.
func Sync(ctx context.Context, co Checkout) (SyncResult, error) {
	var result SyncResult

	if co.URL == "" {
		return result, eris.Errorf("checkout %s has no URL", co.Name)
	}

	be, err := backendFor(co)
	if err != nil {
		return result, err
	}

	_, err = os.Stat(co.Dest)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return result, eris.Wrapf(err, "failed to check %s", co.Dest)
		}

		err = os.MkdirAll(filepath.Dir(co.Dest), 0770)
		if err != nil {
			return result, eris.Wrapf(err, "failed to create parent directory for %s", co.Dest)
		}

		mlog.Log(ctx).Info().Str("checkout", co.Name).Msgf("checking out %s", co.URL)
		err = be.clone(ctx, co)
		if err != nil {
			return result, eris.Wrapf(err, "failed to check out %s", co.URL)
		}

		result.Created = true
	} else {
		mlog.Log(ctx).Info().Str("checkout", co.Name).Msgf("updating %s", co.Dest)
		err = be.update(ctx, co)
		if err != nil {
			mlog.Log(ctx).Warn().Str("checkout", co.Name).Err(err).
				Msg("update failed, continuing with the existing working copy")
		}
	}

	rev, err := be.revision(ctx, co.Dest)
	if err != nil {
		mlog.Log(ctx).Debug().Str("checkout", co.Name).Err(err).Msg("could not determine revision")
	} else {
		result.Revision = rev
	}

	return result, nil
}

func run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", eris.Wrapf(err, "%s %s failed: %s", name, strings.Join(args, " "), strings.TrimSpace(string(output)))
	}

	return strings.TrimSpace(string(output)), nil
}

type gitBackend struct{}

func (gitBackend) clone(ctx context.Context, co Checkout) error {
	args := []string{"clone", co.URL, co.Dest}
	if co.Branch != "" {
		args = append(args, "--branch", co.Branch)
	}

	_, err := run(ctx, "", "git", args...)
	return err
}

func (gitBackend) update(ctx context.Context, co Checkout) error {
	_, err := run(ctx, co.Dest, "git", "pull", "--ff-only")
	return err
}

func (gitBackend) revision(ctx context.Context, dest string) (string, error) {
	return run(ctx, dest, "git", "rev-parse", "HEAD")
}

type svnBackend struct{}

func (svnBackend) clone(ctx context.Context, co Checkout) error {
	_, err := run(ctx, "", "svn", "checkout", co.URL, co.Dest)
	return err
}

func (svnBackend) update(ctx context.Context, co Checkout) error {
	_, err := run(ctx, co.Dest, "svn", "update")
	return err
}

func (svnBackend) revision(ctx context.Context, dest string) (string, error) {
	return run(ctx, dest, "svnversion")
}
