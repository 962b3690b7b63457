package stowage

type ErrorCategory string
type ExitCode int

const (
	ExitSuccess                                       = ExitCode(0)
	ExitUsage, ErrUsage                               = ExitCode(1), ErrorCategory("stowage-usage-error")           // Indicates some piece of user input to a command was invalid and unrunnable.
	ExitPanic                                         = ExitCode(2)                                                 // Placeholder.  We don't use this.  '2' happens when golang exits due to panic.
	ExitSourceUnavailable, ErrSourceUnavailable       = ExitCode(3), ErrorCategory("stowage-source-unavailable")    // Acquiring the origin failed entirely -- clone refused, path absent, archive unreadable.  No phases run.
	ExitSourceRead, ErrSourceRead                     = ExitCode(4), ErrorCategory("stowage-source-read-error")     // The history became unreadable partway through a walk.  Phases already completed remain valid.
	ExitConversion, ErrConversion                     = ExitCode(5), ErrorCategory("stowage-conversion-error")      // A malformed tree or content was encountered while deriving objects.
	ExitWarehouseUnavailable, ErrWarehouseUnavailable = ExitCode(6), ErrorCategory("stowage-warehouse-unavailable") // Warehouse 404: the target could not be dialed or does not exist.
	ExitTransmission, ErrTransmission                 = ExitCode(7), ErrorCategory("stowage-transmission-error")    // The warehouse rejected or timed out on a packet.  Carries the kind and the packet's object IDs in details.
	ExitCancelled, ErrCancelled                       = ExitCode(8), ErrorCategory("stowage-cancelled")             // The operation timed out or was cancelled.
	ExitNotImplemented, ErrNotImplemented             = ExitCode(9), ErrorCategory("stowage-not-implemented")       // The operation is not implemented, PRs welcome.
	ExitLocalScratchProblem, ErrLocalScratchProblem   = ExitCode(10), ErrorCategory("stowage-local-scratch-problem") // Indicates an error while trying to write to scratch space for clones and extractions.  Often a permissions problem.
	ExitTODO                                          = ExitCode(254)                                               // This exit code should be replaced with something more specific.
)

// Detail keys used on ErrTransmission errors (see errcat.ErrorDetailed).
const (
	ErrDetail_Kind      = "kind"      // the object kind of the rejected packet.
	ErrDetail_ObjectIDs = "objectIDs" // comma-separated object IDs buffered in the rejected packet.
)
