/*
	Canonical hashing rules for every object kind.

	An object's identifier is the base58 encoding of a sha512/384 digest over
	the object's canonical serial form.  The canonical form is expressed in
	cbor (rfc7049) with fixed-length maps and a fixed order for all fields,
	so the entire structure is computed deterministically and unambiguously.

	Contents are the exception: their canonical form is the raw byte stream
	itself, with no framing at all.  That is what makes cross-revision
	deduplication meaningful -- the same bytes hash the same no matter which
	file, path, or revision they came from.

	This manual marshalling has a stable field order and the longevity of
	every identifier in every warehouse relies on it; change nothing here
	without a migration story.
*/
package ident

import (
	"crypto/sha512"
	"hash"
	"io"
	"sort"
	"time"

	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/misc"
	"github.com/polydawn/refmt/tok"

	"go.stowage.net/stowage/api"
)

func hasherFactory() hash.Hash {
	return sha512.New384()
}

// ContentID hashes raw file bytes.  Symlink targets are hashed the same way:
// a symlink's "content" is its target path string.
func ContentID(data []byte) api.ObjectID {
	hasher := hasherFactory()
	hasher.Write(data)
	return api.ObjectID{Kind: api.Kind_Content, Hash: misc.Base58Encode(hasher.Sum(nil))}
}

// ContentIDForStream hashes content bytes without holding them all in
// memory.  Used for contents over the size ceiling, whose bytes are hashed
// but not retained.
func ContentIDForStream(r io.Reader) (api.ObjectID, int64, error) {
	hasher := hasherFactory()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return api.ObjectID{}, n, err
	}
	return api.ObjectID{Kind: api.Kind_Content, Hash: misc.Base58Encode(hasher.Sum(nil))}, n, nil
}

/*
	DirectoryID hashes a canonical entry list.

	The serial structure is expressed something like the following:

		{"e": [
			{"n": $name, "t": $entryType, "p": $mode, "h": $target.String()},
			...
		]}

	Entries are sorted by name before encoding; the input slice is not
	mutated.  Since each entry's target string already folds in the target's
	own hash, the result verifies the integrity of the entire subtree
	(much like a Merkle tree).
*/
func DirectoryID(entries []api.DirEntry) api.ObjectID {
	sorted := make([]api.DirEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	hasher := hasherFactory()
	enc := cbor.NewEncoder(hasher)
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 1})
	enc.Step(&tok.Token{Type: tok.TString, Str: "e"})
	enc.Step(&tok.Token{Type: tok.TArrOpen, Length: len(sorted)})
	for _, ent := range sorted {
		enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 4})
		enc.Step(&tok.Token{Type: tok.TString, Str: "n"})
		enc.Step(&tok.Token{Type: tok.TString, Str: ent.Name})
		enc.Step(&tok.Token{Type: tok.TString, Str: "t"})
		enc.Step(&tok.Token{Type: tok.TString, Str: string(ent.Type)})
		enc.Step(&tok.Token{Type: tok.TString, Str: "p"})
		enc.Step(&tok.Token{Type: tok.TInt, Int: int64(ent.Mode)})
		enc.Step(&tok.Token{Type: tok.TString, Str: "h"})
		enc.Step(&tok.Token{Type: tok.TString, Str: ent.Target.String()})
	}
	return api.ObjectID{Kind: api.Kind_Directory, Hash: misc.Base58Encode(hasher.Sum(nil))}
}

/*
	RevisionID hashes revision metadata plus the root directory reference.

	Parent IDs are encoded in the order given (parent order is part of the
	source history, not ours to normalize).  A revision's ID therefore folds
	in its whole ancestry, which is why the parent graph cannot express a
	cycle.
*/
func RevisionID(r api.Revision) api.ObjectID {
	hasher := hasherFactory()
	enc := cbor.NewEncoder(hasher)
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 8})
	enc.Step(&tok.Token{Type: tok.TString, Str: "a"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Author.Fullname})
	enc.Step(&tok.Token{Type: tok.TString, Str: "ad"})
	marshalTime(enc, r.Date)
	enc.Step(&tok.Token{Type: tok.TString, Str: "c"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Committer.Fullname})
	enc.Step(&tok.Token{Type: tok.TString, Str: "cd"})
	marshalTime(enc, r.CommitDate)
	enc.Step(&tok.Token{Type: tok.TString, Str: "m"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Message})
	enc.Step(&tok.Token{Type: tok.TString, Str: "p"})
	enc.Step(&tok.Token{Type: tok.TArrOpen, Length: len(r.Parents)})
	for _, p := range r.Parents {
		enc.Step(&tok.Token{Type: tok.TString, Str: p.String()})
	}
	enc.Step(&tok.Token{Type: tok.TString, Str: "r"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Root.String()})
	enc.Step(&tok.Token{Type: tok.TString, Str: "x"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: 0}) // reserved for extra headers
	return api.ObjectID{Kind: api.Kind_Revision, Hash: misc.Base58Encode(hasher.Sum(nil))}
}

func ReleaseID(r api.Release) api.ObjectID {
	hasher := hasherFactory()
	enc := cbor.NewEncoder(hasher)
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 4})
	enc.Step(&tok.Token{Type: tok.TString, Str: "n"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Name})
	enc.Step(&tok.Token{Type: tok.TString, Str: "t"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Target.String()})
	enc.Step(&tok.Token{Type: tok.TString, Str: "m"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Message})
	enc.Step(&tok.Token{Type: tok.TString, Str: "g"})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Tagger.Fullname})
	return api.ObjectID{Kind: api.Kind_Release, Hash: misc.Base58Encode(hasher.Sum(nil))}
}

// OccurrenceID is derived from the branch name and target alone.  The visit
// that observed the pointer is metadata, deliberately outside the hash: a
// later visit seeing the same branch at the same revision re-derives the
// same ID and the transmission dedupes away.
func OccurrenceID(o api.Occurrence) api.ObjectID {
	hasher := hasherFactory()
	enc := cbor.NewEncoder(hasher)
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 2})
	enc.Step(&tok.Token{Type: tok.TString, Str: "b"})
	enc.Step(&tok.Token{Type: tok.TString, Str: o.Branch})
	enc.Step(&tok.Token{Type: tok.TString, Str: "t"})
	enc.Step(&tok.Token{Type: tok.TString, Str: o.Target.String()})
	return api.ObjectID{Kind: api.Kind_Occurrence, Hash: misc.Base58Encode(hasher.Sum(nil))}
}

// Times are hashed as unix seconds plus the recorded zone offset in seconds.
// The offset is part of the history (an author's wall clock), so it
// participates in the hash even though the instant alone would compare equal.
func marshalTime(enc *cbor.Encoder, t time.Time) {
	_, offset := t.Zone()
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 2})
	enc.Step(&tok.Token{Type: tok.TString, Str: "s"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: t.Unix()})
	enc.Step(&tok.Token{Type: tok.TString, Str: "o"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(offset)})
}
