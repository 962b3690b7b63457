package warehouse

import (
	"context"

	"go.stowage.net/stowage/api"
)

/*
	A packet-oriented warehouse accepts bounded batches of same-kind objects
	and answers existence queries over identifier sets.

	Backing implementations are typically simple key-value stores.
	Examples are 'kvfs' (using a local filesystem),
	'kvhttp' (aiming at http(s) URLs),
	'memory' (for tests and scan-only runs), etc.

	SendPacket is synchronous: it returns only once the backend has durably
	acknowledged the whole packet, or with an error describing the rejection.
	Implementations do not retry; retry policy belongs to the caller.
	Identifiers are idempotent, so replaying an acknowledged packet is safe
	and must not error.

	Exists answers which of the given identifiers the warehouse already
	holds.  It serves the deduplication cache's fallback path, so it should
	be cheap relative to re-deriving and re-sending the objects.
*/
type PacketSender interface {
	SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error
	Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error)
}

/*
	A no-op implementation of PacketSender.
	You can use this to invoke a load as "scan only" -- it'll derive and
	count every object without actually saving the packed data anywhere.
*/
type NullPacketSender struct{}

func (NullPacketSender) SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error {
	return nil
}

func (NullPacketSender) Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error) {
	return map[api.ObjectID]struct{}{}, nil
}
