package packet

import (
	"context"

	. "github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/warehouse"
)

/*
	Packetizer accumulates objects of a single kind and flushes them to a
	warehouse in bounded batches.

	A flush is triggered when either the item count or the accumulated byte
	size reaches its threshold.  Flushes are synchronous: `Add` does not
	return until any flush it triggered has completed, so a slow warehouse
	naturally throttles the producer.

	A packetizer never retries a failed send.  On error the batch that
	failed is retained, and the same `Add` or `Close` call may be repeated
	by a caller that owns retry policy; or the whole load may be abandoned.

	Not safe for concurrent use.
*/
type Packetizer struct {
	kind     api.ObjectKind
	sender   warehouse.PacketSender
	maxItems int
	maxBytes int64

	batch       []api.Object
	batchBytes  int64
	sentItems   int
	sentBatches int
}

/*
	NewPacketizer configures a packetizer for one kind of object.

	Thresholds of zero disable that bound ("unbounded"); at least one
	bound should be set or every object rides to `Close`.
*/
func NewPacketizer(kind api.ObjectKind, sender warehouse.PacketSender, maxItems int, maxBytes int64) *Packetizer {
	return &Packetizer{
		kind:     kind,
		sender:   sender,
		maxItems: maxItems,
		maxBytes: maxBytes,
	}
}

/*
	Add appends one object to the pending batch, flushing first if the
	object would push the batch over either threshold.

	An object which is alone larger than the byte threshold still ships:
	it simply travels in a packet of one.

	May return errors of category:

	  - `stowage.ErrTransmission` -- if the warehouse refuses a packet
	  - `stowage.ErrCancelled` -- when the context is cancelled
*/
func (p *Packetizer) Add(ctx context.Context, obj api.Object, size int64) error {
	if len(p.batch) > 0 {
		overCount := p.maxItems > 0 && len(p.batch)+1 > p.maxItems
		overBytes := p.maxBytes > 0 && p.batchBytes+size > p.maxBytes
		if overCount || overBytes {
			if err := p.flush(ctx); err != nil {
				return err
			}
		}
	}
	p.batch = append(p.batch, obj)
	p.batchBytes += size
	return nil
}

/*
	Close flushes any final partial batch.  The packetizer may not be used
	again afterward.  Closing an empty packetizer is a no-op.
*/
func (p *Packetizer) Close(ctx context.Context) error {
	if len(p.batch) == 0 {
		return nil
	}
	return p.flush(ctx)
}

// Kind reports which object kind this packetizer carries.
func (p *Packetizer) Kind() api.ObjectKind {
	return p.kind
}

// SentItems reports how many objects have been successfully transmitted.
func (p *Packetizer) SentItems() int {
	return p.sentItems
}

// SentBatches reports how many packets have been successfully transmitted.
func (p *Packetizer) SentBatches() int {
	return p.sentBatches
}

func (p *Packetizer) flush(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return Errorf(stowage.ErrCancelled, "cancelled")
	default:
	}
	if err := p.sender.SendPacket(ctx, p.kind, p.batch); err != nil {
		return ErrorDetailed(
			Category(err), err.Error(),
			map[string]string{
				stowage.ErrDetail_Kind:      string(p.kind),
				stowage.ErrDetail_ObjectIDs: idList(p.batch),
			},
		)
	}
	p.sentItems += len(p.batch)
	p.sentBatches++
	p.batch = p.batch[:0]
	p.batchBytes = 0
	return nil
}

func idList(objs []api.Object) string {
	s := ""
	for i, obj := range objs {
		if i > 0 {
			s += ","
		}
		s += obj.ObjectID().String()
	}
	return s
}
