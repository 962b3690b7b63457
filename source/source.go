/*
	Obtaining a readable repository from an origin address.

	An origin address can be several shapes -- a clone URL, a plain local
	path, or a path to a repository snapshot archive -- and each shape needs
	different plumbing before the rest of the system can walk it.  This
	package demuxes on the shape and hands back a uniform handle.

	Remote clones and archive extractions land in a scratch area under the
	workdir base path; the returned cleanup func removes it.  Opening a
	local path directly allocates nothing and its cleanup is a no-op.
*/
package source

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	. "github.com/warpfork/go-errcat"
	srcd_git "gopkg.in/src-d/go-git.v4"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/config"
	"go.stowage.net/stowage/lib/guid"
)

// Cleanup funcs release any scratch space an Obtain call allocated.
// Always safe to call, even when Obtain errored.
type CleanupFunc func() error

var noopCleanup CleanupFunc = func() error { return nil }

/*
	Obtain opens the repository behind an origin address, cloning or
	extracting into scratch space first when the address demands it.

	May return errors of category:

	  - `stowage.ErrUsage` -- for addresses of no recognizable shape
	  - `stowage.ErrSourceUnavailable` -- origin missing, unreachable, or not a repository
	  - `stowage.ErrSourceRead` -- origin reachable but corrupt
*/
func Obtain(ctx context.Context, origin api.OriginAddr) (*srcd_git.Repository, CleanupFunc, error) {
	addr := strings.TrimSpace(string(origin))
	if addr == "" {
		return nil, noopCleanup, Errorf(stowage.ErrUsage, "origin address is empty")
	}
	u, err := url.Parse(addr)
	if err != nil {
		// Not URL-shaped at all; treat as a local path.
		return obtainLocal(addr)
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
		return obtainClone(ctx, addr)
	case "file":
		return obtainLocal(u.Path)
	case "":
		return obtainLocal(addr)
	default:
		return nil, noopCleanup, Errorf(stowage.ErrUsage, "unsupported scheme in origin addr: %q", u.Scheme)
	}
}

func obtainClone(ctx context.Context, addr string) (*srcd_git.Repository, CleanupFunc, error) {
	scratch, cleanup, err := mkScratch("clone")
	if err != nil {
		return nil, cleanup, err
	}
	// Bare clone: we only read objects and refs, never a worktree.
	repo, err := srcd_git.PlainCloneContext(ctx, scratch, true, &srcd_git.CloneOptions{
		URL: addr,
	})
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return nil, noopCleanup, Errorf(stowage.ErrCancelled, "cancelled")
		}
		return nil, noopCleanup, Errorf(stowage.ErrSourceUnavailable, "failed to clone origin %q: %s", addr, err)
	}
	return repo, cleanup, nil
}

func obtainLocal(pth string) (*srcd_git.Repository, CleanupFunc, error) {
	fi, err := os.Stat(pth)
	switch {
	case err != nil:
		return nil, noopCleanup, Errorf(stowage.ErrSourceUnavailable, "origin does not exist: %s", err)
	case fi.IsDir():
		return openRepoDir(pth)
	case looksLikeArchive(pth):
		return obtainArchive(pth)
	default:
		return nil, noopCleanup, Errorf(stowage.ErrUsage, "origin path is neither a directory nor a recognized archive: %q", pth)
	}
}

func obtainArchive(pth string) (*srcd_git.Repository, CleanupFunc, error) {
	scratch, cleanup, err := mkScratch("extract")
	if err != nil {
		return nil, cleanup, err
	}
	root, err := extractArchive(pth, scratch)
	if err != nil {
		cleanup()
		return nil, noopCleanup, err
	}
	repo, _, err := openRepoDir(root)
	if err != nil {
		cleanup()
		return nil, noopCleanup, err
	}
	return repo, cleanup, nil
}

func openRepoDir(pth string) (*srcd_git.Repository, CleanupFunc, error) {
	repo, err := srcd_git.PlainOpen(pth)
	switch err {
	case nil:
		return repo, noopCleanup, nil
	case srcd_git.ErrRepositoryNotExists:
		return nil, noopCleanup, Errorf(stowage.ErrSourceUnavailable, "no repository at %q", pth)
	default:
		return nil, noopCleanup, Errorf(stowage.ErrSourceRead, "failed to open repository at %q: %s", pth, err)
	}
}

func looksLikeArchive(pth string) bool {
	for _, suffix := range []string{".tar", ".tar.gz", ".tgz", ".tar.xz", ".txz", ".zip"} {
		if strings.HasSuffix(pth, suffix) {
			return true
		}
	}
	return false
}

func mkScratch(prefix string) (string, CleanupFunc, error) {
	base := config.GetWorkdirBasePath()
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", noopCleanup, Errorf(stowage.ErrLocalScratchProblem, "cannot initialize workspace in %q: %s", base, err)
	}
	scratch := filepath.Join(base, prefix+"-"+guid.New())
	if err := os.Mkdir(scratch, 0755); err != nil {
		return "", noopCleanup, Errorf(stowage.ErrLocalScratchProblem, "cannot initialize workspace in %q: %s", base, err)
	}
	return scratch, func() error { return os.RemoveAll(scratch) }, nil
}
