/*
	Topological iteration over a repository's commit graph.

	The walker yields every commit reachable from any ref, parents strictly
	before children, so a consumer converting commits one at a time can
	always assume the objects a commit references were already handled.

	Ordering is computed with an iterative frontier algorithm (no
	recursion), so arbitrarily deep histories cannot blow the stack.
	Ties are broken by commit hash, making the order reproducible for a
	given repository state.
*/
package walker

import (
	"io"
	"sort"

	. "github.com/warpfork/go-errcat"
	srcd_git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"go.stowage.net/stowage/api/stowage"
)

/*
	Walker hands out commits in topological order via `Next`.

	A walker is single-use: once `Next` returns io.EOF it stays exhausted.
	Not safe for concurrent use.
*/
type Walker struct {
	repo  *srcd_git.Repository
	order []plumbing.Hash
	at    int
}

/*
	New surveys the commit graph reachable from all refs and returns a
	walker over it.  The survey reads every commit header once; commit
	bodies are re-read lazily by `Next`.

	May return errors of category:

	  - `stowage.ErrSourceRead` -- if the graph is unreadable or malformed
*/
func New(repo *srcd_git.Repository) (*Walker, error) {
	heads, err := refHeads(repo)
	if err != nil {
		return nil, err
	}

	// Survey pass: walk parent links from every head with an explicit
	// stack, recording each commit's parents and building the reverse
	// (parent -> children) adjacency needed to release children later.
	parents := map[plumbing.Hash][]plumbing.Hash{}
	children := map[plumbing.Hash][]plumbing.Hash{}
	stack := append([]plumbing.Hash{}, heads...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := parents[h]; seen {
			continue
		}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return nil, Errorf(stowage.ErrSourceRead, "failed reading commit %s: %s", h, err)
		}
		parents[h] = commit.ParentHashes
		for _, p := range commit.ParentHashes {
			children[p] = append(children[p], h)
			stack = append(stack, p)
		}
	}

	// Order pass: repeatedly emit commits whose parents have all been
	// emitted, starting from the parentless roots.
	pending := make(map[plumbing.Hash]int, len(parents))
	frontier := []plumbing.Hash{}
	for h, ps := range parents {
		pending[h] = len(ps)
		if len(ps) == 0 {
			frontier = append(frontier, h)
		}
	}
	sortHashes(frontier)
	order := make([]plumbing.Hash, 0, len(parents))
	for len(frontier) > 0 {
		h := frontier[0]
		frontier = frontier[1:]
		order = append(order, h)
		released := []plumbing.Hash{}
		for _, c := range children[h] {
			pending[c]--
			if pending[c] == 0 {
				released = append(released, c)
			}
		}
		sortHashes(released)
		frontier = append(frontier, released...)
	}
	if len(order) != len(parents) {
		// Every remaining commit waits on a parent that waits back on it.
		return nil, Errorf(stowage.ErrSourceRead, "commit graph contains a cycle")
	}

	return &Walker{repo: repo, order: order}, nil
}

// Len reports how many commits the walk will yield in total.
func (w *Walker) Len() int {
	return len(w.order)
}

/*
	Next returns the next commit in topological order, or io.EOF when the
	walk is exhausted.

	May return errors of category:

	  - `stowage.ErrSourceRead` -- if a commit vanished or is unreadable
*/
func (w *Walker) Next() (*object.Commit, error) {
	if w.at >= len(w.order) {
		return nil, io.EOF
	}
	h := w.order[w.at]
	w.at++
	commit, err := w.repo.CommitObject(h)
	if err != nil {
		return nil, Errorf(stowage.ErrSourceRead, "failed reading commit %s: %s", h, err)
	}
	return commit, nil
}

// refHeads resolves every ref to the commit it points at, peeling
// annotated tags.  Refs aiming at non-commits (e.g. tags of blobs) are
// skipped.
func refHeads(repo *srcd_git.Repository) ([]plumbing.Hash, error) {
	iter, err := repo.References()
	if err != nil {
		return nil, Errorf(stowage.ErrSourceRead, "failed listing refs: %s", err)
	}
	defer iter.Close()
	var heads []plumbing.Hash
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		h, ok := peelToCommit(repo, ref.Hash())
		if ok {
			heads = append(heads, h)
		}
		return nil
	})
	if err != nil {
		return nil, Errorf(stowage.ErrSourceRead, "failed listing refs: %s", err)
	}
	return heads, nil
}

// PeelToCommit follows annotated tag objects down to a commit hash.
func PeelToCommit(repo *srcd_git.Repository, h plumbing.Hash) (plumbing.Hash, bool) {
	return peelToCommit(repo, h)
}

func peelToCommit(repo *srcd_git.Repository, h plumbing.Hash) (plumbing.Hash, bool) {
	for {
		if _, err := repo.CommitObject(h); err == nil {
			return h, true
		}
		tag, err := repo.TagObject(h)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		h = tag.Target
	}
}

func sortHashes(hs []plumbing.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].String() < hs[j].String()
	})
}
