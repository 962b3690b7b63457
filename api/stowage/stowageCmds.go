/*
	Interfaces of stowage commands.

	The heuristic for the stowage callable library API is that essentially
	all information must be racked up in the call already: the caller is
	going to have already handled all config loading and parsing, and those
	objects are params in these funcs.  Nothing reaches for ambient state.
*/
package stowage

import (
	"context"

	"go.stowage.net/stowage/api"
)

type LoadFunc func(
	ctx context.Context, // Long-running call.  Cancellable (between packet flushes).
	origin api.OriginAddr, // What origin to visit: clone URL, local path, or archive path.
	target api.WarehouseAddr, // Warehouse to transmit the derived objects into.
	tuning LoadTuning, // Packet bounds, per-kind toggles, retry budget.
	monitor Monitor, // Optionally: callbacks for progress monitoring.
) (api.Visit, error)

/*
	Knobs for one load run.  All zero values mean "use the default".

	The packet bounds are the backpressure mechanism: a flush blocks until the
	warehouse acknowledges, so at most one packet's worth of unacknowledged
	objects exists at any time.
*/
type LoadTuning struct {
	ContentPacketSize      int   // max items per content packet.
	ContentPacketSizeBytes int64 // max cumulative bytes per content packet.
	DirectoryPacketSize    int   // max items per directory packet.
	RevisionPacketSize     int   // max items per revision packet.
	ReleasePacketSize      int   // max items per release packet.
	OccurrencePacketSize   int   // max items per occurrence packet.

	MaxContentSize int64 // contents over this size are sent as absent back-references.

	// Per-kind toggles.  A disabled kind still gets converted (later phases
	// may reference its IDs) but produces zero packets.
	SkipContents    bool
	SkipDirectories bool
	SkipRevisions   bool
	SkipReleases    bool
	SkipOccurrences bool

	// With StrictConversion set, a malformed tree fails the load outright.
	// Unset, the affected revision and its descendants are skipped and the
	// visit ends partial.
	StrictConversion bool

	SendRetries int // how many times a rejected packet is retried before the phase stops.
}

/*
	Monitoring configuration structs, and message types used.
*/
type (
	/*
		Configuration for what intermediate progress reports a process should
		send, and slot for the channel the caller wishes them to be sent to.
	*/
	Monitor struct {
		// Channel to which events will be sent as the process proceeds.
		// The channel will be closed when the process is done or cancelled.
		// A nil channel will disable all intermediate progress reporting.
		Chan chan<- Event
	}

	/*
		A "union" type of all the kinds of event that may be generated in the
		course of a load.

		The "Result" message is never sent to Monitor.Chan --
		its values are converted into the function returns --
		but *is* seen in the serial form on the wire.
	*/
	Event struct {
		Phase    *Event_Phase    `refmt:"phase,omitempty"`
		Progress *Event_Progress `refmt:"prog,omitempty"`
		Skipped  *Event_Skipped  `refmt:"skipped,omitempty"`
		Result   *Event_Result   `refmt:"result,omitempty"`
	}

	// Notification that a load phase began or ended.
	Event_Phase struct {
		Kind api.ObjectKind
		Done bool
	}

	// Notifications about packet flushes within a phase.
	Event_Progress struct {
		Kind    api.ObjectKind
		Packets int // packets acknowledged so far in this phase.
		Objects int // objects acknowledged so far in this phase.
	}

	// Notification that a revision (and its descendants) were skipped
	// because their history was malformed.
	Event_Skipped struct {
		Revision string
		Reason   string
	}

	Event_Result struct {
		Visit api.Visit `refmt:"visit"`
		Error string    `refmt:"error,omitempty"`
	}
)

// SetError records the error's category and message for the serial form.
func (r *Event_Result) SetError(err error) {
	if err == nil {
		r.Error = ""
		return
	}
	r.Error = err.Error()
}

func (m Monitor) Send(ev Event) {
	if m.Chan != nil {
		m.Chan <- ev
	}
}
