/*
	An in-memory warehouse.

	Used by tests, and usable as a dry-run destination when you want full
	conversion and packet accounting without durable storage.

	The Reject hook lets tests script backend misbehavior: it is consulted
	before each accept, and any non-nil error it returns is surfaced as the
	packet rejection.
*/
package memory

import (
	"context"
	"sync"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/warehouse"
)

var (
	_ warehouse.PacketSender = &Controller{}
)

type Controller struct {
	mu      sync.Mutex
	held    map[api.ObjectID]api.Object
	packets []PacketRecord // every accepted packet, in acceptance order.

	// Optional test hook; see package doc.
	Reject func(kind api.ObjectKind, packetIndex int) error
}

type PacketRecord struct {
	Kind api.ObjectKind
	IDs  []api.ObjectID
}

func NewController() *Controller {
	return &Controller{
		held: make(map[api.ObjectID]api.Object),
	}
}

func (whCtrl *Controller) SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error {
	whCtrl.mu.Lock()
	defer whCtrl.mu.Unlock()
	if whCtrl.Reject != nil {
		if err := whCtrl.Reject(kind, len(whCtrl.packets)); err != nil {
			return err
		}
	}
	rec := PacketRecord{Kind: kind}
	for _, obj := range objs {
		whCtrl.held[obj.ObjectID()] = obj
		rec.IDs = append(rec.IDs, obj.ObjectID())
	}
	whCtrl.packets = append(whCtrl.packets, rec)
	return nil
}

func (whCtrl *Controller) Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error) {
	whCtrl.mu.Lock()
	defer whCtrl.mu.Unlock()
	found := make(map[api.ObjectID]struct{})
	for _, id := range ids {
		if _, ok := whCtrl.held[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

// Packets returns a copy of the acceptance log.
func (whCtrl *Controller) Packets() []PacketRecord {
	whCtrl.mu.Lock()
	defer whCtrl.mu.Unlock()
	out := make([]PacketRecord, len(whCtrl.packets))
	copy(out, whCtrl.packets)
	return out
}

// Held returns the object stored under id, if any.
func (whCtrl *Controller) Held(id api.ObjectID) (api.Object, bool) {
	whCtrl.mu.Lock()
	defer whCtrl.mu.Unlock()
	obj, ok := whCtrl.held[id]
	return obj, ok
}

// Len reports how many distinct objects the warehouse holds.
func (whCtrl *Controller) Len() int {
	whCtrl.mu.Lock()
	defer whCtrl.mu.Unlock()
	return len(whCtrl.held)
}
