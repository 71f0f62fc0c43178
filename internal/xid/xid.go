// Package xid mints the ledger's entity identifiers. Every id is
// "<prefix>-<unix-nanos>-<8 random bytes hex>"; the prefixes in use are
// "batch", "sale", "alloc" and "audit", so an id names its entity kind on
// sight and sorts roughly by creation time within a kind.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a fresh identifier for the given entity prefix. If the random
// source fails, the timestamp alone still gives a usable, near-unique id.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
