package kvhttp

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	. "github.com/warpfork/go-errcat"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/warehouse"
)

var (
	_ warehouse.PacketSender = Controller{}
)

/*
	A warehouse controller that talks to an archival storage service over
	http(s).

	The wire format is deliberately dumb: a packet is POSTed to
	`<base>/packets/<kind>` as a cbor sequence (one cbor object per item,
	concatenated), and existence queries POST a cbor array of ID strings to
	`<base>/exists`, answered by a cbor array of the IDs the service holds.

	Any non-2xx response, connection failure, or timeout surfaces as
	`stowage.ErrTransmission` -- never silently swallowed; the caller owns
	retry policy.
*/
type Controller struct {
	addr    api.WarehouseAddr // user's string retained for messages
	baseUrl *url.URL
	client  *http.Client
}

/*
	Initialize a new warehouse controller aiming at an http(s) service.

	May return errors of category:

	  - `stowage.ErrUsage` -- for unsupported addresses
*/
func NewController(addr api.WarehouseAddr, timeout time.Duration) (warehouse.PacketSender, error) {
	// Stamp out a warehouse handle.
	//  More values will be accumulated in shortly.
	whCtrl := Controller{
		addr: addr,
	}

	// Verify that the addr is sensible up front.
	u, err := url.Parse(string(addr))
	if err != nil {
		return whCtrl, Errorf(stowage.ErrUsage, "failed to parse URI: %s", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return whCtrl, Errorf(stowage.ErrUsage, "unsupported scheme in warehouse addr: %q (valid options are 'http' or 'https')", u.Scheme)
	}
	whCtrl.baseUrl = u
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	whCtrl.client = &http.Client{Timeout: timeout}

	// We skip pinging that the warehouse exists.
	//  It's as costly as just sending the first packet.

	return whCtrl, nil
}

func (whCtrl Controller) SendPacket(ctx context.Context, kind api.ObjectKind, objs []api.Object) error {
	var body bytes.Buffer
	marshaller := refmt.NewMarshallerAtlased(cbor.EncodeOptions{}, &body, api.Atlas)
	for _, obj := range objs {
		if err := marshaller.Marshal(obj); err != nil {
			panic(err) // our own types failing to marshal is a program error.
		}
	}
	u := *whCtrl.baseUrl
	u.Path = path.Join(u.Path, "packets", string(kind))
	resp, err := whCtrl.do(ctx, u.String(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return Errorf(stowage.ErrTransmission, "warehouse %s rejected %s packet: %s", whCtrl.addr, kind, resp.Status)
	}
}

func (whCtrl Controller) Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	bs, err := refmt.MarshalAtlased(cbor.EncodeOptions{}, strs, api.Atlas)
	if err != nil {
		panic(err)
	}
	u := *whCtrl.baseUrl
	u.Path = path.Join(u.Path, "exists")
	resp, err := whCtrl.do(ctx, u.String(), bytes.NewReader(bs))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Errorf(stowage.ErrTransmission, "warehouse %s failed existence query: %s", whCtrl.addr, resp.Status)
	}
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(stowage.ErrTransmission, "warehouse %s failed existence query: %s", whCtrl.addr, err)
	}
	var known []string
	if err := refmt.UnmarshalAtlased(cbor.DecodeOptions{}, raw, &known, api.Atlas); err != nil {
		return nil, Errorf(stowage.ErrTransmission, "warehouse %s returned malformed existence answer: %s", whCtrl.addr, err)
	}
	found := make(map[api.ObjectID]struct{}, len(known))
	for _, s := range known {
		id, err := api.ParseObjectID(s)
		if err != nil {
			return nil, Errorf(stowage.ErrTransmission, "warehouse %s returned malformed existence answer: %s", whCtrl.addr, err)
		}
		found[id] = struct{}{}
	}
	return found, nil
}

func (whCtrl Controller) do(ctx context.Context, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, Errorf(stowage.ErrUsage, "failed to build request for warehouse %s: %s", whCtrl.addr, err)
	}
	req.Header.Set("Content-Type", "application/cbor")
	resp, err := whCtrl.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Errorf(stowage.ErrCancelled, "cancelled")
		}
		return nil, Errorf(stowage.ErrTransmission, "error connecting to warehouse %s: %s", whCtrl.addr, err)
	}
	return resp, nil
}
