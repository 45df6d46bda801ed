// Package xid generates prefixed identifiers for sales, lots, sessions, and
// audit entries. IDs sort roughly by creation time, which keeps consumption
// traces readable when scanning raw rows.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 6

// New returns an identifier of the form prefix-<unixnano>-<hex>. The random
// suffix disambiguates IDs minted within the same nanosecond.
func New(prefix string) string {
	now := time.Now().UnixNano()
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(buf))
}
