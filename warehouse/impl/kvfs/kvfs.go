package kvfs

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	. "github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/lib/guid"
	"go.stowage.net/stowage/warehouse"
	"go.stowage.net/stowage/warehouse/util"
)

var (
	_ warehouse.PacketSender = Controller{}
)

/*
	A warehouse controller that stores objects on a local filesystem,
	one cbor file per object, fanned out under two levels of hash-prefix
	directories per kind:

		<base>/<kind>/<chunkA>/<chunkB>/<resthash>

	Writes land in a temp file first and are moved into final position with
	a rename, so a crashed run never leaves a half-written object where the
	existence check would find it.
*/
type Controller struct {
	addr     api.WarehouseAddr // user's string retained for messages
	basePath string
}

/*
	Initialize a new warehouse controller that operates on a local filesystem.

	May return errors of category:

	  - `stowage.ErrUsage` -- for unsupported addresses
	  - `stowage.ErrWarehouseUnavailable` -- if the warehouse doesn't exist
*/
func NewController(addr api.WarehouseAddr) (warehouse.PacketSender, error) {
	// Stamp out a warehouse handle.
	//  More values will be accumulated in shortly.
	whCtrl := Controller{
		addr: addr,
	}

	// Verify that the addr is sensible up front, and extract the path.
	u, err := url.Parse(string(addr))
	if err != nil {
		return whCtrl, Errorf(stowage.ErrUsage, "failed to parse URI: %s", err)
	}
	if u.Scheme != "file" {
		return whCtrl, Errorf(stowage.ErrUsage, "unsupported scheme in warehouse addr: %q (valid option is 'file')", u.Scheme)
	}
	absPth, err := filepath.Abs(filepath.Join(u.Host, u.Path))
	if err != nil {
		panic(err)
	}
	whCtrl.basePath = absPth

	// Check that the warehouse exists.
	//  If it does, we're good: return happily.
	stat, err := os.Stat(whCtrl.basePath)
	switch {
	case os.IsNotExist(err):
		return whCtrl, Errorf(stowage.ErrWarehouseUnavailable, "warehouse does not exist (%s)", err)
	case err != nil:
		return whCtrl, Errorf(stowage.ErrWarehouseUnavailable, "warehouse unavailable (%s)", err)
	case !stat.IsDir():
		return whCtrl, Errorf(stowage.ErrWarehouseUnavailable, "warehouse does not exist (%s is not a dir)", whCtrl.basePath)
	default:
		return whCtrl, nil
	}
}

func (whCtrl Controller) SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error {
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return Errorf(stowage.ErrCancelled, "cancelled")
		}
		if err := whCtrl.put(kind, obj); err != nil {
			return err
		}
	}
	return nil
}

func (whCtrl Controller) put(kind api.ObjectKind, obj api.Object) error {
	bs, err := refmt.MarshalAtlased(cbor.EncodeOptions{}, obj, api.Atlas)
	if err != nil {
		panic(err) // our own types failing to marshal is a program error.
	}
	finalPath, err := whCtrl.ensureShelf(obj.ObjectID())
	if err != nil {
		return err
	}
	// Idempotent replay: if the object is already in place, we're done.
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}
	stagePath := filepath.Join(whCtrl.basePath, ".tmp.upload."+guid.New())
	if err := os.WriteFile(stagePath, bs, 0644); err != nil {
		return Errorf(stowage.ErrTransmission, "failed to reserve temp space in warehouse: %s", err)
	}
	if err := os.Rename(stagePath, finalPath); err != nil {
		os.Remove(stagePath)
		return Errorf(stowage.ErrTransmission, "failed to commit object %s: %s", obj.ObjectID(), err)
	}
	return nil
}

func (whCtrl Controller) Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error) {
	found := make(map[api.ObjectID]struct{})
	for _, id := range ids {
		if _, err := os.Stat(whCtrl.shelfPath(id)); err == nil {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (whCtrl Controller) shelfPath(id api.ObjectID) string {
	chunkA, chunkB, rest := util.ChunkifyHash(id)
	return filepath.Join(whCtrl.basePath, string(id.Kind), chunkA, chunkB, rest)
}

func (whCtrl Controller) ensureShelf(id api.ObjectID) (string, error) {
	pth := whCtrl.shelfPath(id)
	if err := os.MkdirAll(filepath.Dir(pth), 0755); err != nil {
		return "", Errorf(stowage.ErrTransmission, "failed to commit object %s: %s", id, err)
	}
	return pth, nil
}
