package testutil

import (
	"time"

	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/util"
	srcd_git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/memory"
)

/*
	RepoBuilder assembles small in-memory git repositories for tests.

	Commit timestamps tick forward one minute per commit from a fixed
	epoch, so a given build script always produces the same hashes.

	All methods panic on error: fixture assembly failing is a broken test,
	not a condition to assert on.
*/
type RepoBuilder struct {
	Repo *srcd_git.Repository
	wt   *srcd_git.Worktree
	n    int
}

func NewRepoBuilder() *RepoBuilder {
	repo, err := srcd_git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		panic(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		panic(err)
	}
	return &RepoBuilder{Repo: repo, wt: wt}
}

func (b *RepoBuilder) WriteFile(path string, contents string) {
	if err := util.WriteFile(b.wt.Filesystem, path, []byte(contents), 0644); err != nil {
		panic(err)
	}
	if _, err := b.wt.Add(path); err != nil {
		panic(err)
	}
}

func (b *RepoBuilder) RemoveFile(path string) {
	if _, err := b.wt.Remove(path); err != nil {
		panic(err)
	}
}

func (b *RepoBuilder) Symlink(path string, target string) {
	if err := b.wt.Filesystem.Symlink(target, path); err != nil {
		panic(err)
	}
	if _, err := b.wt.Add(path); err != nil {
		panic(err)
	}
}

/*
	Commit the staged changes.  With no explicit parents, the commit
	follows HEAD as usual; passing parents makes merge commits possible.
*/
func (b *RepoBuilder) Commit(msg string, parents ...plumbing.Hash) plumbing.Hash {
	b.n++
	sig := b.signature()
	h, err := b.wt.Commit(msg, &srcd_git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
		Parents:   parents,
	})
	if err != nil {
		panic(err)
	}
	return h
}

/*
	CommitWithMissingTree stores a commit whose tree hash points at
	nothing, then moves the current branch to it like a normal commit.
	History walks still see the commit; reading its tree fails -- the
	shape of a truncated or corrupted transfer.
*/
func (b *RepoBuilder) CommitWithMissingTree(msg string, parents ...plumbing.Hash) plumbing.Hash {
	b.n++
	sig := b.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     plumbing.NewHash("4242424242424242424242424242424242424242"),
		ParentHashes: parents,
	}
	obj := b.Repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		panic(err)
	}
	h, err := b.Repo.Storer.SetEncodedObject(obj)
	if err != nil {
		panic(err)
	}
	head, err := b.Repo.Reference(plumbing.HEAD, false)
	if err != nil {
		panic(err)
	}
	if err := b.Repo.Storer.SetReference(plumbing.NewHashReference(head.Target(), h)); err != nil {
		panic(err)
	}
	return h
}

func (b *RepoBuilder) Branch(name string, at plumbing.Hash) {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), at)
	if err := b.Repo.Storer.SetReference(ref); err != nil {
		panic(err)
	}
}

func (b *RepoBuilder) Checkout(branch string, create bool) {
	err := b.wt.Checkout(&srcd_git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	})
	if err != nil {
		panic(err)
	}
}

// Tag makes a lightweight tag; use AnnotatedTag for a tag object.
func (b *RepoBuilder) Tag(name string, at plumbing.Hash) {
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), at)
	if err := b.Repo.Storer.SetReference(ref); err != nil {
		panic(err)
	}
}

func (b *RepoBuilder) AnnotatedTag(name string, msg string, at plumbing.Hash) {
	sig := b.signature()
	_, err := b.Repo.CreateTag(name, at, &srcd_git.CreateTagOptions{
		Tagger:  &sig,
		Message: msg,
	})
	if err != nil {
		panic(err)
	}
}

func (b *RepoBuilder) signature() object.Signature {
	return object.Signature{
		Name:  "Test Fixture",
		Email: "fixture@example.net",
		When:  time.Unix(1500000000, 0).Add(time.Duration(b.n) * time.Minute).UTC(),
	}
}
