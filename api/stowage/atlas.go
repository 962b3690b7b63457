package stowage

import (
	"github.com/polydawn/refmt/obj/atlas"

	"go.stowage.net/stowage/api"
)

// Atlas for the event stream and results: the event union types, plus all
// the object types an event can carry.
var Atlas = atlas.MustBuild(append([]*atlas.AtlasEntry{
	atlas.BuildEntry(Event{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Event_Phase{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Event_Progress{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Event_Skipped{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Event_Result{}).StructMap().Autogenerate().Complete(),
}, api.AtlasEntries...)...)
