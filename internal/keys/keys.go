// Package keys builds the storage keys shared by both tiers.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	prefix = "nemo:"

	// MaxLen bounds a readable key; longer keys are hashed. Memcached limits keys
	// to 250 bytes and the lock/revision prefixes must still fit.
	MaxLen = 200

	lockPrefix     = "STALE::"
	revisionPrefix = "REVISION::"
)

// Single computes the storage key of key within namespace ns. Hashed keys are
// marked with '#', so a readable key starting with '#' is hashed as well.
func Single(ns, key string) string {
	k := prefix + ns + ":" + key
	if len(k) <= MaxLen && printable(k) && !strings.HasPrefix(key, "#") {
		return k
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + ns + ":#" + hex.EncodeToString(sum[:])
}

// Lock is the lock record key guarding computed.
func Lock(computed string) string { return lockPrefix + computed }

// Revision is the revision counter key of computed.
func Revision(computed string) string { return revisionPrefix + computed }

// Batch computes the storage keys of keys, collapsing duplicates. The returned
// slice keeps first-seen order; orig maps each storage key back to its input.
func Batch(ns string, keys []string) (storage []string, orig map[string]string) {
	storage = make([]string, 0, len(keys))
	orig = make(map[string]string, len(keys))
	for _, k := range keys {
		sk := Single(ns, k)
		if _, dup := orig[sk]; dup {
			continue
		}
		orig[sk] = k
		storage = append(storage, sk)
	}
	return storage, orig
}

// printable reports whether s is safe as a text-protocol key: visible ASCII only.
func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c >= 0x7f {
			return false
		}
	}
	return true
}
