/*
	The load controller: one visit, end to end.

	A load opens the origin, walks its history once per phase, and streams
	derived objects to the warehouse in kind order -- contents, then
	directories, then revisions, then releases, then occurrences.  The
	ordering is the referential-integrity guarantee: by the time any object
	reaches the warehouse, everything it references is already there.

	Failure handling is positional.  Dying during the contents phase
	leaves a "failed" visit; dying in any later phase leaves a "partial"
	one, because what did land is internally consistent and a later visit
	can top it up (IDs are idempotent, so re-sending costs nothing but
	bandwidth).
*/
package load

import (
	"context"
	"net/url"
	"time"

	. "github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/source"
	"go.stowage.net/stowage/warehouse"
	"go.stowage.net/stowage/warehouse/impl/kvfs"
	"go.stowage.net/stowage/warehouse/impl/kvhttp"
	"go.stowage.net/stowage/warehouse/impl/memory"
)

var (
	_ stowage.LoadFunc = Load
)

/*
	Load performs one full visit: dial the warehouse, obtain the origin,
	run all phases, report the visit.

	The returned visit is meaningful even on error -- its status says how
	far things got.  If a monitor channel was supplied it is closed before
	return.
*/
func Load(
	ctx context.Context,
	origin api.OriginAddr,
	target api.WarehouseAddr,
	tuning stowage.LoadTuning,
	mon stowage.Monitor,
) (api.Visit, error) {
	if mon.Chan != nil {
		defer close(mon.Chan)
	}

	sender, err := Dial(target)
	if err != nil {
		return failedVisit(origin), err
	}

	repo, cleanup, err := source.Obtain(ctx, origin)
	if err != nil {
		return failedVisit(origin), err
	}
	defer cleanup()

	return Run(ctx, origin, repo, sender, tuning, mon)
}

/*
	Dial picks a warehouse controller for the addr's scheme.

	May return errors of category:

	  - `stowage.ErrUsage` -- unrecognized scheme
	  - `stowage.ErrWarehouseUnavailable` -- the warehouse could not be reached
*/
func Dial(addr api.WarehouseAddr) (warehouse.PacketSender, error) {
	u, err := url.Parse(string(addr))
	if err != nil {
		return nil, Errorf(stowage.ErrUsage, "failed to parse URI: %s", err)
	}
	switch u.Scheme {
	case "file":
		return kvfs.NewController(addr)
	case "http", "https":
		return kvhttp.NewController(addr, 0)
	case "memory":
		return memory.NewController(), nil
	case "null":
		return warehouse.NullPacketSender{}, nil
	default:
		return nil, Errorf(stowage.ErrUsage, "unsupported scheme in warehouse addr: %q", u.Scheme)
	}
}

/*
	A PacketSender wrapper owning retry policy.  The packetizer itself
	never retries; this wrapper re-offers a rejected packet up to its retry
	budget, doubling the pause between offers.  Only transmission
	rejections are retried -- usage errors and cancellation are final.
*/
type retrySender struct {
	warehouse.PacketSender
	retries int
	pause   time.Duration
}

func (s retrySender) SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error {
	pause := s.pause
	for try := 0; ; try++ {
		err := s.PacketSender.SendPacket(ctx, kind, objs)
		if err == nil || try >= s.retries {
			return err
		}
		if Category(err) != stowage.ErrTransmission {
			return err
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return Errorf(stowage.ErrCancelled, "cancelled")
		}
		pause *= 2
	}
}
