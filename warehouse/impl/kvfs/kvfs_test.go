package kvfs

import (
	"context"
	"fmt"
	"io/ioutil"
	"testing"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/ident"
	"go.stowage.net/stowage/testutil"
)

func TestFileWarehouse(t *testing.T) {
	Convey("Given a file warehouse", t, func() {
		testutil.WithTmpdir(func(tmpDir string) {
			whCtrl, err := NewController(api.WarehouseAddr(fmt.Sprintf("file://%s", tmpDir)))
			So(err, ShouldBeNil)
			ctx := context.Background()

			content := api.Content{
				ID:     ident.ContentID([]byte("hello\n")),
				Length: 6,
				Data:   []byte("hello\n"),
			}

			Convey("a sent object lands on a shelf and round-trips", func() {
				So(whCtrl.SendPacket(ctx, api.Kind_Content, []api.Object{content}), ShouldBeNil)

				pth := whCtrl.(Controller).shelfPath(content.ID)
				bs, err := ioutil.ReadFile(pth)
				So(err, ShouldBeNil)
				var reheated api.Content
				So(refmt.UnmarshalAtlased(cbor.DecodeOptions{}, bs, &reheated, api.Atlas), ShouldBeNil)
				So(reheated, ShouldResemble, content)
			})

			Convey("existence checks answer for held and unheld objects", func() {
				So(whCtrl.SendPacket(ctx, api.Kind_Content, []api.Object{content}), ShouldBeNil)
				found, err := whCtrl.Exists(ctx, []api.ObjectID{
					content.ID,
					ident.ContentID([]byte("never sent")),
				})
				So(err, ShouldBeNil)
				So(found, ShouldResemble, map[api.ObjectID]struct{}{content.ID: {}})
			})

			Convey("replaying the same packet is idempotent", func() {
				So(whCtrl.SendPacket(ctx, api.Kind_Content, []api.Object{content}), ShouldBeNil)
				So(whCtrl.SendPacket(ctx, api.Kind_Content, []api.Object{content}), ShouldBeNil)
				found, err := whCtrl.Exists(ctx, []api.ObjectID{content.ID})
				So(err, ShouldBeNil)
				So(len(found), ShouldEqual, 1)
			})
		})
	})
}

func TestFileWarehouseAddrChecks(t *testing.T) {
	Convey("Warehouse addresses are vetted up front", t, func() {
		Convey("an unsupported scheme is a usage error", func() {
			_, err := NewController("ftp://wherever")
			So(err, errcat.ErrorShouldHaveCategory, stowage.ErrUsage)
		})
		Convey("a nonexistent directory is an unavailable warehouse", func() {
			_, err := NewController("file:///surely/this/path/does/not/exist")
			So(err, errcat.ErrorShouldHaveCategory, stowage.ErrWarehouseUnavailable)
		})
	})
}
