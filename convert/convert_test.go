package convert

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/ident"
	"go.stowage.net/stowage/testutil"
)

func TestContentHarvesting(t *testing.T) {
	Convey("Given a two-commit history sharing most of its tree", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("a.txt", "alpha\n")
		b.WriteFile("sub/b.txt", "beta\n")
		c1 := b.Commit("initial")
		b.WriteFile("a.txt", "alpha, revised\n")
		c2 := b.Commit("revise a")

		cnv := New(b.Repo, 0)
		var emitted []api.Content
		emit := func(content api.Content, size int64) error {
			emitted = append(emitted, content)
			return nil
		}

		Convey("the first commit yields every content", func() {
			commit, err := b.Repo.CommitObject(c1)
			So(err, ShouldBeNil)
			So(cnv.HarvestContents(commit, emit), ShouldBeNil)
			So(len(emitted), ShouldEqual, 2)

			Convey("and the second commit yields only what changed", func() {
				emitted = nil
				commit, err := b.Repo.CommitObject(c2)
				So(err, ShouldBeNil)
				So(cnv.HarvestContents(commit, emit), ShouldBeNil)
				So(len(emitted), ShouldEqual, 1)
				So(emitted[0].ID, ShouldResemble, ident.ContentID([]byte("alpha, revised\n")))
			})

			Convey("and harvesting the same commit again yields nothing", func() {
				emitted = nil
				So(cnv.HarvestContents(commit, emit), ShouldBeNil)
				So(len(emitted), ShouldEqual, 0)
			})
		})
	})
}

func TestContentDeduplication(t *testing.T) {
	Convey("Given one blob reachable from two paths", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("x.txt", "same bytes\n")
		b.WriteFile("y.txt", "same bytes\n")
		c1 := b.Commit("twins")

		cnv := New(b.Repo, 0)
		var emitted []api.Content
		commit, err := b.Repo.CommitObject(c1)
		So(err, ShouldBeNil)
		err = cnv.HarvestContents(commit, func(content api.Content, size int64) error {
			emitted = append(emitted, content)
			return nil
		})
		So(err, ShouldBeNil)

		Convey("only one content is emitted", func() {
			So(len(emitted), ShouldEqual, 1)
		})

		Convey("but both directory entries point at it", func() {
			rootID, err := cnv.ConvertTree(commit, func(api.Directory) error { return nil })
			So(err, ShouldBeNil)
			So(rootID.IsZero(), ShouldBeFalse)

			var root api.Directory
			cnv2 := New(b.Repo, 0)
			_, err = cnv2.ConvertTree(commit, func(dir api.Directory) error {
				root = dir
				return nil
			})
			So(err, ShouldBeNil)
			So(len(root.Entries), ShouldEqual, 2)
			So(root.Entries[0].Target, ShouldResemble, root.Entries[1].Target)
		})
	})
}

func TestOversizedContents(t *testing.T) {
	Convey("Given a size ceiling smaller than one of the files", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("small.txt", "ok\n")
		b.WriteFile("big.bin", "0123456789abcdef\n")
		c1 := b.Commit("mixed sizes")

		cnv := New(b.Repo, 8)
		byID := map[api.ObjectID]api.Content{}
		commit, err := b.Repo.CommitObject(c1)
		So(err, ShouldBeNil)
		err = cnv.HarvestContents(commit, func(content api.Content, size int64) error {
			byID[content.ID] = content
			return nil
		})
		So(err, ShouldBeNil)

		Convey("the oversized file is an absent back-reference with a true ID", func() {
			bigID := ident.ContentID([]byte("0123456789abcdef\n"))
			big, found := byID[bigID]
			So(found, ShouldBeTrue)
			So(big.Absent, ShouldBeTrue)
			So(big.Data, ShouldBeNil)
			So(big.Length, ShouldEqual, 17)
			So(big.Reason, ShouldNotBeEmpty)
		})

		Convey("the small file still ships whole", func() {
			small, found := byID[ident.ContentID([]byte("ok\n"))]
			So(found, ShouldBeTrue)
			So(small.Absent, ShouldBeFalse)
			So(small.Data, ShouldResemble, []byte("ok\n"))
		})

		Convey("the directory still references the absent content", func() {
			var root api.Directory
			_, err := cnv.ConvertTree(commit, func(dir api.Directory) error {
				root = dir
				return nil
			})
			So(err, ShouldBeNil)
			So(root.Entries[0].Name, ShouldEqual, "big.bin")
			So(root.Entries[0].Target, ShouldResemble, ident.ContentID([]byte("0123456789abcdef\n")))
		})
	})
}

func TestDirectoryDerivation(t *testing.T) {
	Convey("Given a nested tree", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("a.txt", "alpha\n")
		b.WriteFile("sub/b.txt", "beta\n")
		c1 := b.Commit("initial")
		b.WriteFile("a.txt", "alpha, revised\n")
		c2 := b.Commit("revise a")

		cnv := New(b.Repo, 0)
		commit1, err := b.Repo.CommitObject(c1)
		So(err, ShouldBeNil)
		commit2, err := b.Repo.CommitObject(c2)
		So(err, ShouldBeNil)

		Convey("directories come out bottom-up", func() {
			var emitted []api.Directory
			root1, err := cnv.ConvertTree(commit1, func(dir api.Directory) error {
				emitted = append(emitted, dir)
				return nil
			})
			So(err, ShouldBeNil)
			So(len(emitted), ShouldEqual, 2)
			So(emitted[1].ID, ShouldResemble, root1) // root emitted last
			So(len(emitted[0].Entries), ShouldEqual, 1)
			So(emitted[0].Entries[0].Name, ShouldEqual, "b.txt")

			Convey("and an untouched subtree is not re-emitted for the next commit", func() {
				emitted = nil
				root2, err := cnv.ConvertTree(commit2, func(dir api.Directory) error {
					emitted = append(emitted, dir)
					return nil
				})
				So(err, ShouldBeNil)
				So(len(emitted), ShouldEqual, 1) // only the changed root
				So(root2, ShouldNotResemble, root1)
			})
		})

		Convey("the same tree derives the same ID in a fresh converter", func() {
			root1, err := cnv.ConvertTree(commit1, func(api.Directory) error { return nil })
			So(err, ShouldBeNil)
			root1again, err := New(b.Repo, 0).ConvertTree(commit1, func(api.Directory) error { return nil })
			So(err, ShouldBeNil)
			So(root1again, ShouldResemble, root1)
		})
	})
}

func TestSymlinkConversion(t *testing.T) {
	Convey("Given a tree holding a symlink", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("a.txt", "alpha\n")
		b.Symlink("ln", "a.txt")
		c1 := b.Commit("with symlink")

		cnv := New(b.Repo, 0)
		commit, err := b.Repo.CommitObject(c1)
		So(err, ShouldBeNil)

		Convey("the link target path is its content", func() {
			ids := map[api.ObjectID]struct{}{}
			err := cnv.HarvestContents(commit, func(content api.Content, size int64) error {
				ids[content.ID] = struct{}{}
				return nil
			})
			So(err, ShouldBeNil)
			_, found := ids[ident.ContentID([]byte("a.txt"))]
			So(found, ShouldBeTrue)
		})

		Convey("the directory entry is typed as a symlink", func() {
			var root api.Directory
			_, err := cnv.ConvertTree(commit, func(dir api.Directory) error {
				root = dir
				return nil
			})
			So(err, ShouldBeNil)
			var lnEntry api.DirEntry
			for _, ent := range root.Entries {
				if ent.Name == "ln" {
					lnEntry = ent
				}
			}
			So(lnEntry.Type, ShouldEqual, api.Type_Symlink)
			So(lnEntry.Target, ShouldResemble, ident.ContentID([]byte("a.txt")))
		})
	})
}

func TestRevisionDerivation(t *testing.T) {
	Convey("Given a commit and its derived tree", t, func() {
		b := testutil.NewRepoBuilder()
		b.WriteFile("a.txt", "alpha\n")
		c1 := b.Commit("initial")
		b.WriteFile("a.txt", "alpha, revised\n")
		c2 := b.Commit("revise a")

		cnv := New(b.Repo, 0)
		commit1, _ := b.Repo.CommitObject(c1)
		commit2, _ := b.Repo.CommitObject(c2)
		root1, err := cnv.ConvertTree(commit1, func(api.Directory) error { return nil })
		So(err, ShouldBeNil)
		root2, err := cnv.ConvertTree(commit2, func(api.Directory) error { return nil })
		So(err, ShouldBeNil)

		rev1 := ConvertRevision(commit1, nil, root1)
		rev2 := ConvertRevision(commit2, []api.ObjectID{rev1.ID}, root2)

		Convey("identities carry the raw fullname form", func() {
			So(rev1.Author.Fullname, ShouldEqual, "Test Fixture <fixture@example.net>")
			So(rev1.Author.Name, ShouldEqual, "Test Fixture")
			So(rev1.Author.Email, ShouldEqual, "fixture@example.net")
		})

		Convey("a child's ID folds in its parent's ID", func() {
			So(rev2.Parents, ShouldResemble, []api.ObjectID{rev1.ID})
			orphan := ConvertRevision(commit2, nil, root2)
			So(orphan.ID, ShouldNotResemble, rev2.ID)
		})

		Convey("derivation is deterministic", func() {
			So(ConvertRevision(commit1, nil, root1).ID, ShouldResemble, rev1.ID)
		})
	})
}
