package util

import (
	"go.stowage.net/stowage/api"
)

/*
	Return a first, second, and remaining chunk of an object's hash as strings.

	These are the first three, second three, and remaining bytes of the string.
	For base58 encoded values, these first two chunks used as dir prefixes are a
	cozy density for storing many many thousands of objects.
*/
func ChunkifyHash(id api.ObjectID) (string, string, string) {
	return id.Hash[0:3], id.Hash[3:6], id.Hash[6:]
}
