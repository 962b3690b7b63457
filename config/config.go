/*
	Helpers for loading contextual config.

	Config for Stowage means "things that are the host machine operator's
	concerns".  So, things like work directories for clones and archive
	extraction are considered "config", as opposed to parameters for function
	calls.  (This distinction is meaningful because config is generally not
	passed in calls; a load invoked by a remote scheduler will read its
	*local* config in order to comply with the operator's rules on that
	machine and environment.)

	Packet tuning defaults also live here: they are the fallbacks applied
	when a caller leaves LoadTuning fields zero.
*/
package config

import (
	"os"
	"path/filepath"

	"go.stowage.net/stowage/api/stowage"
)

/*
	Return the path prefix used as a workspace for clones and archive
	extraction.

	The default value is `"$STOWAGE_BASE/work"`;
	this can be overriden by the `STOWAGE_WORKDIR` environment variable.
*/
func GetWorkdirBasePath() string {
	pth := os.Getenv("STOWAGE_WORKDIR")
	if pth == "" {
		return filepath.Join(GetStowageBasePath(), "work")
	}
	pth, err := filepath.Abs(pth)
	if err != nil {
		panic(err)
	}
	return pth
}

/*
	Return the home-base path prefix that is the default root for all other
	Stowage paths.

	The default value is `"/var/lib/stowage"`;
	this can be overriden by the `STOWAGE_BASE` environment variable.
*/
func GetStowageBasePath() string {
	pth := os.Getenv("STOWAGE_BASE")
	if pth == "" {
		pth = "/var/lib/stowage"
	}
	pth, err := filepath.Abs(pth)
	if err != nil {
		panic(err)
	}
	return pth
}

// Defaults applied to zero LoadTuning fields.
// The content byte bound and size ceiling follow the upstream archive's
// longstanding operational values.
const (
	DefaultContentPacketSize      = 10000
	DefaultContentPacketSizeBytes = 100 * 1024 * 1024
	DefaultDirectoryPacketSize    = 25000
	DefaultRevisionPacketSize     = 100000
	DefaultReleasePacketSize      = 100000
	DefaultOccurrencePacketSize   = 100000
	DefaultMaxContentSize         = 100 * 1024 * 1024
	DefaultSendRetries            = 3
)

// ApplyTuningDefaults returns a copy of the tuning with zero fields filled.
func ApplyTuningDefaults(t stowage.LoadTuning) stowage.LoadTuning {
	if t.ContentPacketSize == 0 {
		t.ContentPacketSize = DefaultContentPacketSize
	}
	if t.ContentPacketSizeBytes == 0 {
		t.ContentPacketSizeBytes = DefaultContentPacketSizeBytes
	}
	if t.DirectoryPacketSize == 0 {
		t.DirectoryPacketSize = DefaultDirectoryPacketSize
	}
	if t.RevisionPacketSize == 0 {
		t.RevisionPacketSize = DefaultRevisionPacketSize
	}
	if t.ReleasePacketSize == 0 {
		t.ReleasePacketSize = DefaultReleasePacketSize
	}
	if t.OccurrencePacketSize == 0 {
		t.OccurrencePacketSize = DefaultOccurrencePacketSize
	}
	if t.MaxContentSize == 0 {
		t.MaxContentSize = DefaultMaxContentSize
	}
	if t.SendRetries == 0 {
		t.SendRetries = DefaultSendRetries
	}
	if t.SendRetries < 0 {
		// Negative means "really zero": retries explicitly off.
		t.SendRetries = 0
	}
	return t
}
