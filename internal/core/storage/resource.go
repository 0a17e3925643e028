package storage

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// LockFileName maps a resource name to a filesystem-safe lock file name.
// Resource names contain separators ("messages/channel_...") so they are
// hashed rather than escaped.
func LockFileName(resource string) string {
	sum := blake3.Sum256([]byte(resource))
	return hex.EncodeToString(sum[:12]) + ".lock"
}

// AdvisoryKey maps a resource name to a 64-bit key for databases whose
// advisory locks are keyed by integers.
func AdvisoryKey(resource string) int64 {
	sum := blake3.Sum256([]byte(resource))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
