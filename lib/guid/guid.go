// Small random identifiers: not globally unique in any rigorous sense,
// but plenty for temp dir names and visit handles.
package guid

import (
	"crypto/rand"
	"encoding/base32"
)

const size = 26

var encoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz")

func New() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err) // the platform random source is broken; nothing sensible to do.
	}
	return encoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
}
