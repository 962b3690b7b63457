package cache

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.stowage.net/stowage/api"
)

type scriptedChecker struct {
	present map[api.ObjectID]struct{}
	queries int
}

func (c *scriptedChecker) Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error) {
	c.queries++
	found := map[api.ObjectID]struct{}{}
	for _, id := range ids {
		if _, ok := c.present[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func id(s string) api.ObjectID {
	return api.ObjectID{Kind: api.Kind_Content, Hash: s}
}

func TestIDCache(t *testing.T) {
	Convey("Given a cache over a warehouse holding one object", t, func() {
		checker := &scriptedChecker{present: map[api.ObjectID]struct{}{id("old"): {}}}
		c := New(checker)

		Convey("marked IDs are known", func() {
			So(c.Known(id("x")), ShouldBeFalse)
			c.Mark(id("x"))
			So(c.Known(id("x")), ShouldBeTrue)
		})

		Convey("filtering drops local marks, warehouse hits, and keeps order", func() {
			c.Mark(id("local"))
			unknown, err := c.FilterUnknown(context.Background(), []api.ObjectID{
				id("new-b"), id("local"), id("old"), id("new-a"),
			})
			So(err, ShouldBeNil)
			So(unknown, ShouldResemble, []api.ObjectID{id("new-b"), id("new-a")})

			Convey("and a warehouse hit is not asked about twice", func() {
				So(checker.queries, ShouldEqual, 1)
				_, err := c.FilterUnknown(context.Background(), []api.ObjectID{id("old")})
				So(err, ShouldBeNil)
				So(checker.queries, ShouldEqual, 1)
			})
		})

		Convey("an all-known batch never reaches the warehouse", func() {
			c.Mark(id("a"))
			c.Mark(id("b"))
			unknown, err := c.FilterUnknown(context.Background(), []api.ObjectID{id("a"), id("b")})
			So(err, ShouldBeNil)
			So(len(unknown), ShouldEqual, 0)
			So(checker.queries, ShouldEqual, 0)
		})
	})

	Convey("Given a cache with no fallback", t, func() {
		c := New(nil)

		Convey("filtering is purely local", func() {
			c.Mark(id("a"))
			unknown, err := c.FilterUnknown(context.Background(), []api.ObjectID{id("a"), id("b")})
			So(err, ShouldBeNil)
			So(unknown, ShouldResemble, []api.ObjectID{id("b")})
		})
	})
}
