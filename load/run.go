package load

import (
	"context"
	"io"
	"time"

	. "github.com/warpfork/go-errcat"
	srcd_git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/cache"
	"go.stowage.net/stowage/config"
	"go.stowage.net/stowage/convert"
	"go.stowage.net/stowage/lib/guid"
	"go.stowage.net/stowage/packet"
	"go.stowage.net/stowage/walker"
	"go.stowage.net/stowage/warehouse"
)

const defaultRetryPause = 500 * time.Millisecond

// How many candidate IDs pile up before one existence query goes out.
const dedupBatchSize = 256

/*
	Run performs all load phases against an already opened repository and
	warehouse.  Callers owning their own source or warehouse plumbing (and
	tests) come in here; everyone else wants `Load`.

	The monitor channel, if any, is NOT closed: the caller opened it.
*/
func Run(
	ctx context.Context,
	origin api.OriginAddr,
	repo *srcd_git.Repository,
	sender warehouse.PacketSender,
	tuning stowage.LoadTuning,
	mon stowage.Monitor,
) (api.Visit, error) {
	tuning = config.ApplyTuningDefaults(tuning)
	retrier := retrySender{sender, tuning.SendRetries, defaultRetryPause}
	visit := api.Visit{
		ID:     guid.New(),
		Origin: origin,
		Time:   time.Now().UTC(),
		Status: api.VisitStatus_Ongoing,
		Counts: map[api.ObjectKind]int{},
	}
	ld := &run{
		repo:    repo,
		sender:  retrier,
		tuning:  tuning,
		mon:     mon,
		idc:     cache.New(sender),
		cnv:     convert.New(repo, tuning.MaxContentSize),
		visit:   &visit,
		corrupt: map[plumbing.Hash]struct{}{},
		skipped: map[plumbing.Hash]struct{}{},
		rootIDs: map[plumbing.Hash]api.ObjectID{},
		revIDs:  map[plumbing.Hash]api.ObjectID{},
	}

	// The contents phase builds the foundation; dying there means the
	// warehouse gained nothing tied together yet, so the visit failed.
	if err := ld.contentsPhase(ctx); err != nil {
		visit.Status = api.VisitStatus_Failed
		return visit, err
	}
	// From here on, whatever did land is internally consistent: every
	// flushed object's references were flushed before it.  A death now
	// leaves a partial visit that a later one can complete.
	if err := ld.directoriesPhase(ctx); err != nil {
		visit.Status = api.VisitStatus_Partial
		return visit, err
	}
	if err := ld.revisionsPhase(ctx); err != nil {
		visit.Status = api.VisitStatus_Partial
		return visit, err
	}
	if err := ld.releasesPhase(ctx); err != nil {
		visit.Status = api.VisitStatus_Partial
		return visit, err
	}
	if err := ld.occurrencesPhase(ctx); err != nil {
		visit.Status = api.VisitStatus_Partial
		return visit, err
	}

	if len(ld.skipped) > 0 {
		visit.Status = api.VisitStatus_Partial
	} else {
		visit.Status = api.VisitStatus_Full
	}
	return visit, nil
}

type run struct {
	repo   *srcd_git.Repository
	sender warehouse.PacketSender
	tuning stowage.LoadTuning
	mon    stowage.Monitor
	idc    *cache.IDCache
	cnv    *convert.Converter
	visit  *api.Visit

	corrupt map[plumbing.Hash]struct{}     // commits whose trees failed conversion.
	skipped map[plumbing.Hash]struct{}     // corrupt commits plus all their descendants.
	rootIDs map[plumbing.Hash]api.ObjectID // commit -> derived root directory.
	revIDs  map[plumbing.Hash]api.ObjectID // commit -> derived revision.
}

func failedVisit(origin api.OriginAddr) api.Visit {
	return api.Visit{
		ID:     guid.New(),
		Origin: origin,
		Time:   time.Now().UTC(),
		Status: api.VisitStatus_Failed,
	}
}

func (ld *run) contentsPhase(ctx context.Context) error {
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: api.Kind_Content}})
	w, err := walker.New(ld.repo)
	if err != nil {
		return err
	}
	p := packet.NewPacketizer(api.Kind_Content, ld.sender, ld.tuning.ContentPacketSize, ld.tuning.ContentPacketSizeBytes)
	sink := ld.newSink(ctx, p, ld.tuning.SkipContents)
	for {
		commit, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		err = ld.cnv.HarvestContents(commit, func(content api.Content, size int64) error {
			return sink.put(content, size)
		})
		if err != nil {
			if Category(err) == stowage.ErrConversion && !ld.tuning.StrictConversion {
				ld.corrupt[commit.Hash] = struct{}{}
				continue
			}
			return err
		}
	}
	return ld.finishPhase(ctx, api.Kind_Content, sink, p)
}

func (ld *run) directoriesPhase(ctx context.Context) error {
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: api.Kind_Directory}})
	w, err := walker.New(ld.repo)
	if err != nil {
		return err
	}
	p := packet.NewPacketizer(api.Kind_Directory, ld.sender, ld.tuning.DirectoryPacketSize, 0)
	sink := ld.newSink(ctx, p, ld.tuning.SkipDirectories)
	for {
		commit, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, bad := ld.corrupt[commit.Hash]; bad {
			continue
		}
		rootID, err := ld.cnv.ConvertTree(commit, func(dir api.Directory) error {
			return sink.put(dir, 0)
		})
		if err != nil {
			if Category(err) == stowage.ErrConversion && !ld.tuning.StrictConversion {
				ld.corrupt[commit.Hash] = struct{}{}
				continue
			}
			return err
		}
		ld.rootIDs[commit.Hash] = rootID
	}
	return ld.finishPhase(ctx, api.Kind_Directory, sink, p)
}

func (ld *run) revisionsPhase(ctx context.Context) error {
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: api.Kind_Revision}})
	w, err := walker.New(ld.repo)
	if err != nil {
		return err
	}
	p := packet.NewPacketizer(api.Kind_Revision, ld.sender, ld.tuning.RevisionPacketSize, 0)
	sink := ld.newSink(ctx, p, ld.tuning.SkipRevisions)
	for {
		commit, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		h := commit.Hash
		reason := ""
		if _, bad := ld.corrupt[h]; bad {
			reason = "tree unreadable"
		}
		for _, ph := range commit.ParentHashes {
			if _, s := ld.skipped[ph]; s {
				reason = "ancestor skipped"
			}
		}
		if reason != "" {
			ld.skipped[h] = struct{}{}
			ld.mon.Send(stowage.Event{Skipped: &stowage.Event_Skipped{Revision: h.String(), Reason: reason}})
			continue
		}
		rootID, found := ld.rootIDs[h]
		if !found {
			// Tree conversion never produced a root (e.g. that whole
			// phase was toggled off in a way that starved us): nothing
			// defensible to transmit.
			ld.skipped[h] = struct{}{}
			ld.mon.Send(stowage.Event{Skipped: &stowage.Event_Skipped{Revision: h.String(), Reason: "no derived tree"}})
			continue
		}
		parents := make([]api.ObjectID, 0, len(commit.ParentHashes))
		for _, ph := range commit.ParentHashes {
			parents = append(parents, ld.revIDs[ph])
		}
		rev := convert.ConvertRevision(commit, parents, rootID)
		ld.revIDs[h] = rev.ID
		if err := sink.put(rev, 0); err != nil {
			return err
		}
	}
	return ld.finishPhase(ctx, api.Kind_Revision, sink, p)
}

func (ld *run) releasesPhase(ctx context.Context) error {
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: api.Kind_Release}})
	p := packet.NewPacketizer(api.Kind_Release, ld.sender, ld.tuning.ReleasePacketSize, 0)
	sink := ld.newSink(ctx, p, ld.tuning.SkipReleases)
	iter, err := ld.repo.TagObjects()
	if err != nil {
		return Errorf(stowage.ErrSourceRead, "failed listing tags: %s", err)
	}
	err = iter.ForEach(func(tag *object.Tag) error {
		th, ok := walker.PeelToCommit(ld.repo, tag.Target)
		if !ok {
			return nil // tags of blobs or trees have no revision to anchor to.
		}
		revID, found := ld.revIDs[th]
		if !found {
			return nil // target revision was skipped.
		}
		return sink.put(convert.ConvertRelease(tag, revID), 0)
	})
	if err != nil {
		if _, isCat := Category(err).(stowage.ErrorCategory); isCat {
			return err
		}
		return Errorf(stowage.ErrSourceRead, "failed listing tags: %s", err)
	}
	return ld.finishPhase(ctx, api.Kind_Release, sink, p)
}

func (ld *run) occurrencesPhase(ctx context.Context) error {
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: api.Kind_Occurrence}})
	p := packet.NewPacketizer(api.Kind_Occurrence, ld.sender, ld.tuning.OccurrencePacketSize, 0)
	sink := ld.newSink(ctx, p, ld.tuning.SkipOccurrences)
	iter, err := ld.repo.References()
	if err != nil {
		return Errorf(stowage.ErrSourceRead, "failed listing refs: %s", err)
	}
	defer iter.Close()
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		var branch string
		switch {
		case name.IsBranch():
			branch = name.Short()
		case name.IsTag():
			// Annotated tags already became releases; a lightweight tag
			// is recorded as a branch-shaped pointer instead.
			if _, err := ld.repo.TagObject(ref.Hash()); err == nil {
				return nil
			}
			branch = name.Short()
		default:
			return nil
		}
		ch, ok := walker.PeelToCommit(ld.repo, ref.Hash())
		if !ok {
			return nil
		}
		revID, found := ld.revIDs[ch]
		if !found {
			return nil // target revision was skipped.
		}
		return sink.put(convert.ConvertOccurrence(branch, revID, ld.visit.ID), 0)
	})
	if err != nil {
		if _, isCat := Category(err).(stowage.ErrorCategory); isCat {
			return err
		}
		return Errorf(stowage.ErrSourceRead, "failed listing refs: %s", err)
	}
	return ld.finishPhase(ctx, api.Kind_Occurrence, sink, p)
}

func (ld *run) finishPhase(ctx context.Context, kind api.ObjectKind, sink *dedupSink, p *packet.Packetizer) error {
	if err := sink.drain(); err != nil {
		return err
	}
	if err := p.Close(ctx); err != nil {
		return err
	}
	ld.visit.Counts[kind] = p.SentItems()
	ld.mon.Send(stowage.Event{Phase: &stowage.Event_Phase{Kind: kind, Done: true}})
	return nil
}

/*
	A dedupSink stands between conversion and packetization: it buffers
	candidate objects, asks the cache (and through it, the warehouse) which
	are genuinely new, and forwards only those.

	With skip set, conversion proceeds but nothing is packetized -- later
	phases still need the derived IDs, so conversion itself cannot be
	toggled off.
*/
type dedupSink struct {
	ctx  context.Context
	ld   *run
	pack *packet.Packetizer
	skip bool

	objs        []api.Object
	sizes       []int64
	lastBatches int
}

func (ld *run) newSink(ctx context.Context, p *packet.Packetizer, skip bool) *dedupSink {
	return &dedupSink{ctx: ctx, ld: ld, pack: p, skip: skip}
}

func (s *dedupSink) put(obj api.Object, size int64) error {
	if s.skip {
		s.ld.idc.Mark(obj.ObjectID())
		return nil
	}
	if s.ld.idc.Known(obj.ObjectID()) {
		return nil
	}
	s.objs = append(s.objs, obj)
	s.sizes = append(s.sizes, size)
	if len(s.objs) >= dedupBatchSize {
		return s.drain()
	}
	return nil
}

func (s *dedupSink) drain() error {
	if len(s.objs) == 0 {
		return nil
	}
	ids := make([]api.ObjectID, len(s.objs))
	for i, obj := range s.objs {
		ids[i] = obj.ObjectID()
	}
	unknown, err := s.ld.idc.FilterUnknown(s.ctx, ids)
	if err != nil {
		return err
	}
	unknownSet := make(map[api.ObjectID]struct{}, len(unknown))
	for _, id := range unknown {
		unknownSet[id] = struct{}{}
	}
	for i, obj := range s.objs {
		if _, fresh := unknownSet[obj.ObjectID()]; !fresh {
			continue
		}
		// A doubled ID within the batch ships once.
		delete(unknownSet, obj.ObjectID())
		if err := s.pack.Add(s.ctx, obj, s.sizes[i]); err != nil {
			return err
		}
		s.ld.idc.Mark(obj.ObjectID())
	}
	s.objs = s.objs[:0]
	s.sizes = s.sizes[:0]
	if n := s.pack.SentBatches(); n != s.lastBatches {
		s.lastBatches = n
		s.ld.mon.Send(stowage.Event{Progress: &stowage.Event_Progress{
			Kind:    s.pack.Kind(),
			Packets: n,
			Objects: s.pack.SentItems(),
		}})
	}
	return nil
}
