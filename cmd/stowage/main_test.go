package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	srcd_git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/testutil"
)

func TestWithoutArgs(t *testing.T) {
	Convey("stowage: usage printed to stderr", t, func() {
		args := []string{"stowage"}
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		stdin := &bytes.Buffer{}
		ctx := context.Background()
		exitCode := Main(ctx, args, stdin, stdout, stderr)
		t.Log(string(stdout.Bytes()))
		t.Log(string(stderr.Bytes()))
		So(string(stdout.Bytes()), ShouldBeBlank)
		So(string(stderr.Bytes()), ShouldNotBeBlank)
		So(exitCode, ShouldEqual, stowage.ExitUsage)
	})
}

func TestLoadToFileWarehouse(t *testing.T) {
	Convey("stowage: loading a local repository into a file warehouse", t, func() {
		testutil.WithTmpdir(func(tmpDir string) {
			repoDir := filepath.Join(tmpDir, "repo")
			whDir := filepath.Join(tmpDir, "warehouse")
			So(os.Mkdir(repoDir, 0755), ShouldBeNil)
			So(os.Mkdir(whDir, 0755), ShouldBeNil)
			buildDiskRepo(repoDir)

			args := []string{
				"stowage",
				"load",
				repoDir,
				fmt.Sprintf("file://%s", whDir),
			}
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			stdin := &bytes.Buffer{}
			exitCode := Main(context.Background(), args, stdin, stdout, stderr)
			t.Log(string(stdout.Bytes()))
			t.Log(string(stderr.Bytes()))
			So(exitCode, ShouldEqual, stowage.ExitSuccess)
			So(string(stdout.Bytes()), ShouldContainSubstring, "full")

			Convey("The warehouse contains shelves for every kind", func() {
				for _, kind := range []string{"content", "dir", "rev", "occurrence"} {
					stat, err := os.Stat(filepath.Join(whDir, kind))
					So(err, ShouldBeNil)
					So(stat.IsDir(), ShouldBeTrue)
				}
			})

			Convey("A repeat load is still a full visit", func() {
				stdout.Reset()
				stderr.Reset()
				exitCode := Main(context.Background(), args, stdin, stdout, stderr)
				So(exitCode, ShouldEqual, stowage.ExitSuccess)
				So(string(stdout.Bytes()), ShouldContainSubstring, "full")
			})
		})
	})
}

func TestLoadMissingOrigin(t *testing.T) {
	Convey("stowage: a missing origin is a clean failure", t, func() {
		testutil.WithTmpdir(func(tmpDir string) {
			whDir := filepath.Join(tmpDir, "warehouse")
			So(os.Mkdir(whDir, 0755), ShouldBeNil)
			args := []string{
				"stowage",
				"load",
				filepath.Join(tmpDir, "no-such-repo"),
				fmt.Sprintf("file://%s", whDir),
			}
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			exitCode := Main(context.Background(), args, &bytes.Buffer{}, stdout, stderr)
			So(exitCode, ShouldEqual, stowage.ExitSourceUnavailable)
		})
	})
}

func TestScan(t *testing.T) {
	Convey("stowage: scanning counts objects without a warehouse", t, func() {
		testutil.WithTmpdir(func(tmpDir string) {
			repoDir := filepath.Join(tmpDir, "repo")
			So(os.Mkdir(repoDir, 0755), ShouldBeNil)
			buildDiskRepo(repoDir)

			args := []string{"stowage", "scan", repoDir}
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			exitCode := Main(context.Background(), args, &bytes.Buffer{}, stdout, stderr)
			t.Log(string(stdout.Bytes()))
			So(exitCode, ShouldEqual, stowage.ExitSuccess)
			So(string(stdout.Bytes()), ShouldContainSubstring, "content=2")
		})
	})
}

// A tiny on-disk repository: two files, one commit, on the default branch.
func buildDiskRepo(dir string) {
	repo, err := srcd_git.PlainInit(dir, false)
	So(err, ShouldBeNil)
	wt, err := repo.Worktree()
	So(err, ShouldBeNil)
	So(ioutil.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0644), ShouldBeNil)
	So(ioutil.WriteFile(filepath.Join(dir, "b.txt"), []byte("world\n"), 0644), ShouldBeNil)
	_, err = wt.Add("a.txt")
	So(err, ShouldBeNil)
	_, err = wt.Add("b.txt")
	So(err, ShouldBeNil)
	sig := object.Signature{
		Name:  "Test Fixture",
		Email: "fixture@example.net",
		When:  time.Unix(1500000000, 0).UTC(),
	}
	_, err = wt.Commit("initial", &srcd_git.CommitOptions{Author: &sig, Committer: &sig})
	So(err, ShouldBeNil)
}
