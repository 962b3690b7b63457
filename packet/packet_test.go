package packet

import (
	"context"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/ident"
	"go.stowage.net/stowage/warehouse/impl/memory"
)

func mkContent(s string) (api.Content, int64) {
	data := []byte(s)
	return api.Content{
		ID:     ident.ContentID(data),
		Length: int64(len(data)),
		Data:   data,
	}, int64(len(data))
}

func TestPacketizerCountBound(t *testing.T) {
	Convey("Given a packetizer bounded to 3 items", t, func() {
		whCtrl := memory.NewController()
		p := NewPacketizer(api.Kind_Content, whCtrl, 3, 0)
		ctx := context.Background()

		Convey("7 adds and a close ship packets of 3, 3, 1", func() {
			for i := 0; i < 7; i++ {
				obj, size := mkContent(fmt.Sprintf("blob-%d", i))
				So(p.Add(ctx, obj, size), ShouldBeNil)
			}
			So(p.Close(ctx), ShouldBeNil)
			packets := whCtrl.Packets()
			So(len(packets), ShouldEqual, 3)
			So(len(packets[0].IDs), ShouldEqual, 3)
			So(len(packets[1].IDs), ShouldEqual, 3)
			So(len(packets[2].IDs), ShouldEqual, 1)
			So(p.SentItems(), ShouldEqual, 7)
			So(p.SentBatches(), ShouldEqual, 3)
		})

		Convey("closing with nothing pending ships nothing", func() {
			So(p.Close(ctx), ShouldBeNil)
			So(len(whCtrl.Packets()), ShouldEqual, 0)
		})
	})
}

func TestPacketizerByteBound(t *testing.T) {
	Convey("Given a packetizer bounded to 10 bytes", t, func() {
		whCtrl := memory.NewController()
		p := NewPacketizer(api.Kind_Content, whCtrl, 0, 10)
		ctx := context.Background()

		Convey("adds flush before the bound would be crossed", func() {
			a, aSize := mkContent("aaaaaa") // 6 bytes
			b, bSize := mkContent("bbbbbb") // 6 bytes; 12 total would cross
			So(p.Add(ctx, a, aSize), ShouldBeNil)
			So(p.Add(ctx, b, bSize), ShouldBeNil)
			So(p.Close(ctx), ShouldBeNil)
			packets := whCtrl.Packets()
			So(len(packets), ShouldEqual, 2)
			So(packets[0].IDs, ShouldResemble, []api.ObjectID{a.ID})
			So(packets[1].IDs, ShouldResemble, []api.ObjectID{b.ID})
		})

		Convey("an object alone larger than the bound still ships", func() {
			big, bigSize := mkContent("ccccccccccccccccccccccc") // 23 bytes
			So(p.Add(ctx, big, bigSize), ShouldBeNil)
			So(p.Close(ctx), ShouldBeNil)
			packets := whCtrl.Packets()
			So(len(packets), ShouldEqual, 1)
			So(packets[0].IDs, ShouldResemble, []api.ObjectID{big.ID})
		})
	})
}

func TestPacketizerRejection(t *testing.T) {
	Convey("Given a warehouse that rejects the first packet", t, func() {
		whCtrl := memory.NewController()
		rejected := false
		whCtrl.Reject = func(kind api.ObjectKind, packetIndex int) error {
			if !rejected {
				rejected = true
				return errcat.Errorf(stowage.ErrTransmission, "shelf full")
			}
			return nil
		}
		p := NewPacketizer(api.Kind_Content, whCtrl, 2, 0)
		ctx := context.Background()

		Convey("the add that forces the flush surfaces the rejection", func() {
			a, aSize := mkContent("one")
			b, bSize := mkContent("two")
			c, cSize := mkContent("three")
			So(p.Add(ctx, a, aSize), ShouldBeNil)
			So(p.Add(ctx, b, bSize), ShouldBeNil)
			err := p.Add(ctx, c, cSize)
			So(err, errcat.ErrorShouldHaveCategory, stowage.ErrTransmission)

			Convey("and the failed batch names its kind and object IDs", func() {
				details := err.(errcat.Error).Details()
				So(details[stowage.ErrDetail_Kind], ShouldEqual, string(api.Kind_Content))
				So(details[stowage.ErrDetail_ObjectIDs], ShouldContainSubstring, a.ID.Hash)
				So(details[stowage.ErrDetail_ObjectIDs], ShouldContainSubstring, b.ID.Hash)
			})

			Convey("and nothing was recorded as sent", func() {
				So(p.SentItems(), ShouldEqual, 0)
				So(whCtrl.Len(), ShouldEqual, 0)
			})

			Convey("and a later flush of the retained batch can succeed", func() {
				So(p.Add(ctx, c, cSize), ShouldBeNil)
				So(p.Close(ctx), ShouldBeNil)
				So(p.SentItems(), ShouldEqual, 3)
				So(whCtrl.Len(), ShouldEqual, 3)
			})
		})
	})
}

func TestPacketizerCancellation(t *testing.T) {
	Convey("Given a cancelled context", t, func() {
		whCtrl := memory.NewController()
		p := NewPacketizer(api.Kind_Content, whCtrl, 1, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("flushes refuse to run", func() {
			a, aSize := mkContent("one")
			So(p.Add(ctx, a, aSize), ShouldBeNil) // buffered, no flush yet
			b, bSize := mkContent("two")
			err := p.Add(ctx, b, bSize)
			So(err, errcat.ErrorShouldHaveCategory, stowage.ErrCancelled)
		})
	})
}
