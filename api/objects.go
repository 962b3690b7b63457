package api

/*
	This file is all serializable types used in Stowage
	to describe content-addressed objects, origins, and storage locations.
*/

import (
	"fmt"
	"strings"
	"time"

	"github.com/polydawn/refmt/obj/atlas"
)

/*
	Object IDs are content-addressable, cryptographic hashes which uniquely
	identify one object derived from a repository's history -- a file content,
	a directory tree node, a revision, a release, or a branch occurrence.

	Object IDs are serialized as a string in two parts, separated by a colon --
	for example like "content:4rLNNU7x..." or "rev:9fJ83p...".
	The first part communicates which kind of object the hash describes,
	and the second part is the hash itself.

	Two byte-identical file contents always carry the same ObjectID, no matter
	where (or in how many revisions) they appear: the hash is computed over the
	object's canonical serial form alone, never over its position in history.
*/
type ObjectID struct {
	Kind ObjectKind
	Hash string
}

func ParseObjectID(x string) (ObjectID, error) {
	ss := strings.SplitN(x, ":", 2)
	if len(ss) < 2 {
		return ObjectID{}, fmt.Errorf("objectIDs must contain a colon character (they are of form \"<kind>:<hash>\")")
	}
	return ObjectID{ObjectKind(ss[0]), ss[1]}, nil
}

func (x ObjectID) String() string {
	return string(x.Kind) + ":" + x.Hash
}

func (x ObjectID) IsZero() bool {
	return x == ObjectID{}
}

var ObjectID_AtlasEntry = atlas.BuildEntry(ObjectID{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x ObjectID) (string, error) {
			return x.String(), nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x string) (ObjectID, error) {
			return ParseObjectID(x)
		})).
	Complete()

/*
	The kinds of object we derive from a repository's history.

	Kinds are a whitelist; they appear in ObjectID strings and in packet
	framing on the wire, so they must avoid special characters.
*/
type ObjectKind string

const (
	Kind_Content    = ObjectKind("content")
	Kind_Directory  = ObjectKind("dir")
	Kind_Revision   = ObjectKind("rev")
	Kind_Release    = ObjectKind("release")
	Kind_Occurrence = ObjectKind("occurrence")
)

// Kinds in phase order: each kind may only reference IDs of kinds
// that sort strictly earlier in this list (or its own, for revision
// parentage and directory nesting).
var KindsInPhaseOrder = []ObjectKind{
	Kind_Content,
	Kind_Directory,
	Kind_Revision,
	Kind_Release,
	Kind_Occurrence,
}

type (
	/*
		OriginAddr strings describe the logical source repository location a
		visit is performed against: a remote clone URL, a local checkout path,
		or an archive file path.

		The serial format is an opaque string, though they typically resemble
		(and for internal use, are parsed as) URLs.
	*/
	OriginAddr string

	/*
		WarehouseAddr strings describe a protocol and dial address for talking
		to an archival storage warehouse.

		The serial format is an opaque string, though they typically resemble
		(and for internal use, are parsed as) URLs.
	*/
	WarehouseAddr string
)

/*
	Object is the shared face of every packetizable object type.
	Packets are homogeneous (one kind per packet); the interface exists so
	the packetizer and warehouse layers need not know the concrete types.
*/
type Object interface {
	ObjectID() ObjectID
	ObjectKind() ObjectKind
}

/*
	A file's byte content at some revision.

	The ID is computed over the raw bytes alone -- the same bytes in two
	different files, paths, or revisions are one Content.

	Contents over the configured size ceiling are recorded as a back-reference:
	the ID and length are kept, the data is dropped, and Absent says why.
	A directory entry may still point at an absent content; absence is a
	property of this archive's policy, not of the source history.
*/
type Content struct {
	ID     ObjectID `refmt:"id"`
	Length int64    `refmt:"length"`
	Data   []byte   `refmt:"data,omitempty"`
	Absent bool     `refmt:"absent,omitempty"`
	Reason string   `refmt:"reason,omitempty"`
}

/*
	The type of a single directory entry.
*/
type EntryType string

const (
	Type_File    = EntryType("f")
	Type_Dir     = EntryType("d")
	Type_Symlink = EntryType("l")
)

/*
	One named slot in a Directory.

	Target refers to a Content for files and symlinks
	(a symlink's content is its link target path),
	or to another Directory for subdirectories.
*/
type DirEntry struct {
	Name   string    `refmt:"name"`
	Mode   uint32    `refmt:"mode"`
	Type   EntryType `refmt:"type"`
	Target ObjectID  `refmt:"target"`
}

/*
	A filesystem tree node at some revision.

	Entries are kept sorted by name; the ID is computed over the canonical
	serial form of the sorted entry list, so two directories with the same
	entries are one Directory regardless of which revisions they appear in.

	Every entry's target must already be a defined object (leaves before
	containers); the converter emits directories bottom-up to keep that true.
*/
type Directory struct {
	ID      ObjectID   `refmt:"id"`
	Entries []DirEntry `refmt:"entries"`
}

/*
	An author or committer identity, as recorded in the source history.
	Fullname is the raw form; Name and Email are best-effort splits of it
	and may be empty when the raw form doesn't parse.
*/
type Person struct {
	Name     string `refmt:"name,omitempty"`
	Email    string `refmt:"email,omitempty"`
	Fullname string `refmt:"fullname"`
}

/*
	One historical changeset.

	Parents are ordered as the source history records them (zero for roots,
	two or more for merges) and form a DAG: a revision's ID folds in its
	parents' IDs, so a cycle cannot be expressed.
	Root refers to the Directory that is the full tree snapshot at this
	revision.
*/
type Revision struct {
	ID         ObjectID   `refmt:"id"`
	Author     Person     `refmt:"author"`
	Committer  Person     `refmt:"committer"`
	Date       time.Time  `refmt:"date"`
	CommitDate time.Time  `refmt:"commitDate"`
	Message    string     `refmt:"message"`
	Parents    []ObjectID `refmt:"parents"`
	Root       ObjectID   `refmt:"root"`
}

/*
	A named, possibly annotated pointer to a revision -- a tag.
	Lightweight tags (no message, no tagger) are legal; they still get
	a stable ID from their name and target.
*/
type Release struct {
	ID      ObjectID  `refmt:"id"`
	Name    string    `refmt:"name"`
	Target  ObjectID  `refmt:"target"`
	Message string    `refmt:"message,omitempty"`
	Tagger  Person    `refmt:"tagger,omitempty"`
	Date    time.Time `refmt:"date,omitempty"`
}

/*
	The repository's observed branch-name to revision mapping at the time of
	one visit.  Visit records which visit observed the pointer, but identity
	is the (branch, target) pair alone -- a later visit observing the same
	pointer re-derives the same ID, so replays dedupe like everything else.
*/
type Occurrence struct {
	ID     ObjectID `refmt:"id"`
	Branch string   `refmt:"branch"`
	Target ObjectID `refmt:"target"`
	Visit  string   `refmt:"visit"`
}

/*
	The status of one visit.

	"partial" is a deliberate outcome, not a retry queue entry: contents and
	directory structure made it to the warehouse and are internally consistent,
	while the commit/tag/branch layers above them are absent.  Identifiers are
	idempotent, so a later visit can fill the gap without coordination.
*/
type VisitStatus string

const (
	VisitStatus_Ongoing = VisitStatus("ongoing")
	VisitStatus_Full    = VisitStatus("full")
	VisitStatus_Partial = VisitStatus("partial")
	VisitStatus_Failed  = VisitStatus("failed")
)

/*
	One ingestion attempt against one origin at one point in time.
	Owns the occurrences produced by the attempt, and records how many
	objects of each kind were packetized.
*/
type Visit struct {
	ID     string             `refmt:"id"`
	Origin OriginAddr         `refmt:"origin"`
	Time   time.Time          `refmt:"time"`
	Status VisitStatus        `refmt:"status"`
	Counts map[ObjectKind]int `refmt:"counts,omitempty"`
}

var (
	_ Object = Content{}
	_ Object = Directory{}
	_ Object = Revision{}
	_ Object = Release{}
	_ Object = Occurrence{}
)

func (x Content) ObjectID() ObjectID       { return x.ID }
func (x Content) ObjectKind() ObjectKind   { return Kind_Content }
func (x Directory) ObjectID() ObjectID     { return x.ID }
func (x Directory) ObjectKind() ObjectKind { return Kind_Directory }
func (x Revision) ObjectID() ObjectID      { return x.ID }
func (x Revision) ObjectKind() ObjectKind  { return Kind_Revision }
func (x Release) ObjectID() ObjectID       { return x.ID }
func (x Release) ObjectKind() ObjectKind   { return Kind_Release }
func (x Occurrence) ObjectID() ObjectID     { return x.ID }
func (x Occurrence) ObjectKind() ObjectKind { return Kind_Occurrence }
