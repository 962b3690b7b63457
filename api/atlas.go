package api

import (
	"time"

	"github.com/polydawn/refmt/obj/atlas"
)

// refmt has no native notion of time; pin it to RFC3339 strings.
var Time_AtlasEntry = atlas.BuildEntry(time.Time{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x time.Time) (string, error) {
			return x.Format(time.RFC3339), nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x string) (time.Time, error) {
			return time.Parse(time.RFC3339, x)
		})).
	Complete()

/*
	AtlasEntries covers all the serializable object types; other packages
	fold these entries into larger atlases (the stowage command API does
	this for its event stream).
*/
var AtlasEntries = []*atlas.AtlasEntry{
	ObjectID_AtlasEntry,
	Time_AtlasEntry,
	atlas.BuildEntry(Content{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(DirEntry{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Directory{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Person{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Revision{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Release{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Occurrence{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Visit{}).StructMap().Autogenerate().Complete(),
}

/*
	Atlas covering all the serializable object types.
	Used for packet bodies on the wire (cbor) and for CLI output (json).
*/
var Atlas = atlas.MustBuild(AtlasEntries...)
