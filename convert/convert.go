/*
	Deriving content-addressed objects from a repository's raw history.

	The converter turns git plumbing objects into the archive's object
	model: blobs become Contents, trees become Directories, commits become
	Revisions, tag objects become Releases, and refs become Occurrences.

	Conversion is differential: blob and tree hashes from the source
	repository memoize their derived IDs for the lifetime of one converter,
	so converting revision N+1 only touches the subtrees that actually
	changed since any previously converted revision.  On real histories
	that is the difference between quadratic and near-linear work.

	Emission follows the memo: an object is handed to the emit callback
	exactly once per converter lifetime, the first time its source hash is
	seen.  Directories are emitted bottom-up, so every emitted directory's
	entry targets were emitted before it.
*/
package convert

import (
	"io/ioutil"
	"strings"

	. "github.com/warpfork/go-errcat"
	srcd_git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/ident"
)

type Converter struct {
	repo           *srcd_git.Repository
	maxContentSize int64

	// Memoization tables, keyed by source object hash.  An entry present
	// means the derived object was already computed (and emitted, where
	// the harvesting methods do emission).
	contentIDs   map[plumbing.Hash]api.ObjectID
	contentSizes map[plumbing.Hash]int64
	harvested    map[plumbing.Hash]struct{} // trees fully harvested for contents
	dirIDs       map[plumbing.Hash]api.ObjectID
}

func New(repo *srcd_git.Repository, maxContentSize int64) *Converter {
	return &Converter{
		repo:           repo,
		maxContentSize: maxContentSize,
		contentIDs:     map[plumbing.Hash]api.ObjectID{},
		contentSizes:   map[plumbing.Hash]int64{},
		harvested:      map[plumbing.Hash]struct{}{},
		dirIDs:         map[plumbing.Hash]api.ObjectID{},
	}
}

/*
	HarvestContents walks a commit's tree and emits every content not
	already seen by this converter.  The emit callback receives the object
	and its payload size (zero for absent contents).

	May return errors of category:

	  - `stowage.ErrConversion` -- the commit's tree is unreadable or malformed
	  - any category the emit callback returns, unchanged
*/
func (cnv *Converter) HarvestContents(commit *object.Commit, emit func(api.Content, int64) error) error {
	tree, err := commit.Tree()
	if err != nil {
		return Errorf(stowage.ErrConversion, "no tree for commit %s: %s", commit.Hash, err)
	}
	return cnv.harvestTree(tree, emit)
}

func (cnv *Converter) harvestTree(tree *object.Tree, emit func(api.Content, int64) error) error {
	if _, done := cnv.harvested[tree.Hash]; done {
		return nil
	}
	for _, ent := range tree.Entries {
		switch ent.Mode {
		case filemode.Dir:
			subtree, err := cnv.repo.TreeObject(ent.Hash)
			if err != nil {
				return Errorf(stowage.ErrConversion, "missing subtree %s (%q): %s", ent.Hash, ent.Name, err)
			}
			if err := cnv.harvestTree(subtree, emit); err != nil {
				return err
			}
		case filemode.Regular, filemode.Executable, filemode.Symlink:
			if _, done := cnv.contentIDs[ent.Hash]; done {
				continue
			}
			content, size, err := cnv.convertBlob(ent.Hash)
			if err != nil {
				return err
			}
			if err := emit(content, size); err != nil {
				return err
			}
		case filemode.Submodule:
			// Submodule pointers reference a foreign repository's history;
			// they carry no bytes here and are not our objects to archive.
		default:
			return Errorf(stowage.ErrConversion, "unrecognized entry mode %v on %q", ent.Mode, ent.Name)
		}
	}
	cnv.harvested[tree.Hash] = struct{}{}
	return nil
}

// convertBlob derives a Content and memoizes its ID.  Oversized blobs are
// hashed in a stream and recorded as absent; their bytes never land in memory
// whole, and never land in a packet at all.
func (cnv *Converter) convertBlob(h plumbing.Hash) (api.Content, int64, error) {
	blob, err := cnv.repo.BlobObject(h)
	if err != nil {
		return api.Content{}, 0, Errorf(stowage.ErrConversion, "missing blob %s: %s", h, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return api.Content{}, 0, Errorf(stowage.ErrConversion, "unreadable blob %s: %s", h, err)
	}
	defer r.Close()

	if cnv.maxContentSize > 0 && blob.Size > cnv.maxContentSize {
		id, n, err := ident.ContentIDForStream(r)
		if err != nil {
			return api.Content{}, 0, Errorf(stowage.ErrConversion, "unreadable blob %s: %s", h, err)
		}
		cnv.contentIDs[h] = id
		cnv.contentSizes[h] = n
		return api.Content{
			ID:     id,
			Length: n,
			Absent: true,
			Reason: "exceeds size ceiling",
		}, 0, nil
	}

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return api.Content{}, 0, Errorf(stowage.ErrConversion, "unreadable blob %s: %s", h, err)
	}
	id := ident.ContentID(data)
	cnv.contentIDs[h] = id
	cnv.contentSizes[h] = int64(len(data))
	return api.Content{
		ID:     id,
		Length: int64(len(data)),
		Data:   data,
	}, int64(len(data)), nil
}

/*
	ConvertTree derives the Directory graph for a commit's tree, emitting
	each not-yet-seen directory bottom-up, and returns the root directory's
	ID.

	Blob IDs are taken from the memo when warm (the usual case after a
	HarvestContents pass) and computed on demand otherwise -- on-demand
	computation does not emit, since contents are a different phase's
	concern.

	May return errors of category:

	  - `stowage.ErrConversion` -- the commit's tree is unreadable or malformed
	  - any category the emit callback returns, unchanged
*/
func (cnv *Converter) ConvertTree(commit *object.Commit, emit func(api.Directory) error) (api.ObjectID, error) {
	tree, err := commit.Tree()
	if err != nil {
		return api.ObjectID{}, Errorf(stowage.ErrConversion, "no tree for commit %s: %s", commit.Hash, err)
	}
	return cnv.convertTree(tree, emit)
}

func (cnv *Converter) convertTree(tree *object.Tree, emit func(api.Directory) error) (api.ObjectID, error) {
	if id, done := cnv.dirIDs[tree.Hash]; done {
		return id, nil
	}
	entries := make([]api.DirEntry, 0, len(tree.Entries))
	for _, ent := range tree.Entries {
		switch ent.Mode {
		case filemode.Dir:
			subtree, err := cnv.repo.TreeObject(ent.Hash)
			if err != nil {
				return api.ObjectID{}, Errorf(stowage.ErrConversion, "missing subtree %s (%q): %s", ent.Hash, ent.Name, err)
			}
			subID, err := cnv.convertTree(subtree, emit)
			if err != nil {
				return api.ObjectID{}, err
			}
			entries = append(entries, api.DirEntry{
				Name:   ent.Name,
				Mode:   uint32(ent.Mode),
				Type:   api.Type_Dir,
				Target: subID,
			})
		case filemode.Regular, filemode.Executable, filemode.Symlink:
			contentID, done := cnv.contentIDs[ent.Hash]
			if !done {
				content, _, err := cnv.convertBlob(ent.Hash)
				if err != nil {
					return api.ObjectID{}, err
				}
				contentID = content.ID
			}
			entryType := api.Type_File
			if ent.Mode == filemode.Symlink {
				entryType = api.Type_Symlink
			}
			entries = append(entries, api.DirEntry{
				Name:   ent.Name,
				Mode:   uint32(ent.Mode),
				Type:   entryType,
				Target: contentID,
			})
		case filemode.Submodule:
			// See harvestTree: foreign history, skipped.
		default:
			return api.ObjectID{}, Errorf(stowage.ErrConversion, "unrecognized entry mode %v on %q", ent.Mode, ent.Name)
		}
	}
	dir := api.Directory{ID: ident.DirectoryID(entries), Entries: entries}
	if err := emit(dir); err != nil {
		return api.ObjectID{}, err
	}
	cnv.dirIDs[tree.Hash] = dir.ID
	return dir.ID, nil
}

/*
	ConvertRevision derives a Revision from a commit, given the already
	derived parent revision IDs and root directory ID.
*/
func ConvertRevision(commit *object.Commit, parents []api.ObjectID, root api.ObjectID) api.Revision {
	rev := api.Revision{
		Author:     ConvertIdentity(commit.Author),
		Committer:  ConvertIdentity(commit.Committer),
		Date:       commit.Author.When,
		CommitDate: commit.Committer.When,
		Message:    commit.Message,
		Parents:    parents,
		Root:       root,
	}
	rev.ID = ident.RevisionID(rev)
	return rev
}

// ConvertRelease derives a Release from an annotated tag object whose
// target resolved to the given revision ID.
func ConvertRelease(tag *object.Tag, target api.ObjectID) api.Release {
	rel := api.Release{
		Name:    tag.Name,
		Target:  target,
		Message: tag.Message,
		Tagger:  ConvertIdentity(tag.Tagger),
		Date:    tag.Tagger.When,
	}
	rel.ID = ident.ReleaseID(rel)
	return rel
}

// ConvertOccurrence derives an Occurrence from one observed ref.
func ConvertOccurrence(branch string, target api.ObjectID, visit string) api.Occurrence {
	occ := api.Occurrence{
		Branch: branch,
		Target: target,
		Visit:  visit,
	}
	occ.ID = ident.OccurrenceID(occ)
	return occ
}

/*
	ConvertIdentity carries a recorded signature over to a Person.

	The Fullname is the raw "Name <email>" form as the history records it;
	Name and Email are the split parts.  Histories contain all manner of
	garbage identities, so the split parts are best-effort and the Fullname
	is the part identifiers are computed from.
*/
func ConvertIdentity(sig object.Signature) api.Person {
	fullname := sig.Name
	if sig.Email != "" {
		fullname = sig.Name + " <" + sig.Email + ">"
	}
	return api.Person{
		Name:     strings.TrimSpace(sig.Name),
		Email:    strings.TrimSpace(sig.Email),
		Fullname: fullname,
	}
}
