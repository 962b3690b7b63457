package testutil

import (
	"io/ioutil"
	"os"

	"github.com/smartystreets/goconvey/convey"
)

/*
	Run the given function with a tmpdir, and remove it afterwards.

	The tmpdir base defaults to the OS tmpdir; set `STOWAGE_TEST_TMPDIR` to
	relocate it (useful when the OS tmpdir is a ramdisk too small for
	fixture repositories).
*/
func WithTmpdir(fn func(tmpDir string)) {
	tmpBase := os.Getenv("STOWAGE_TEST_TMPDIR")
	tmpdir, err := ioutil.TempDir(tmpBase, "stowage-test-")
	convey.So(err, convey.ShouldBeNil)
	defer os.RemoveAll(tmpdir)
	fn(tmpdir)
}
